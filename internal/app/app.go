package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/feedwatch/feedwatch/internal/client"
	"github.com/feedwatch/feedwatch/internal/feed"
	"github.com/feedwatch/feedwatch/internal/theme"
	"github.com/feedwatch/feedwatch/internal/views/debug"
	"github.com/feedwatch/feedwatch/internal/views/detail"
	"github.com/feedwatch/feedwatch/internal/views/posts"
	"github.com/feedwatch/feedwatch/internal/views/status"
	"github.com/golang/glog"
)

// inboxSize bounds feed messages waiting for Update. A full inbox holds the
// subscriber back rather than dropping frames.
const inboxSize = 64

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayFrameLog
)

// --- Bubble Tea messages ---

// SubscribedMsg is sent when the feed connection is open.
type SubscribedMsg struct {
	Sub *feed.Subscription
	gen int
}

// SubscribeFailedMsg is sent when the feed connection could not be opened.
type SubscribeFailedMsg struct {
	Err error
	gen int
}

// FeedEventMsg delivers one decoded frame.
type FeedEventMsg struct {
	Event feed.Event
	gen   int
}

// SubscriptionEndedMsg is sent once a subscription is Closed or Failed. It
// always follows the subscription's last FeedEventMsg.
type SubscriptionEndedMsg struct {
	State feed.State
	Err   error
	gen   int
}

// HealthMsg carries the origin's health report.
type HealthMsg struct {
	Health *client.Health
	Err    error
}

// Options wires the root model to its collaborators.
type Options struct {
	Address string
	Feed    feed.Options
	Policy  feed.Policy
	// HTTP is optional; without it the health key is ignored.
	HTTP *client.HTTPClient
}

// Model is the root Bubble Tea model. It owns the status slot and the post
// list; both are only mutated from Update.
type Model struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	// Subscription state.
	sub   *feed.Subscription
	gen   int
	inbox chan tea.Msg

	overlay Overlay

	// Sub-views.
	statusBar status.Model
	posts     posts.Model
	frameLog  debug.Model
	detail    detail.Model
}

// New creates the root model.
func New(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	statusBar := status.New()
	statusBar.Address = opts.Address
	statusBar.ReportStatus("Subscribing to " + opts.Address)
	return Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		inbox:     make(chan tea.Msg, inboxSize),
		statusBar: statusBar,
		posts:     posts.New(),
		frameLog:  debug.New(),
	}
}

// Init opens the feed and starts draining the inbox.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connect(), m.listen())
}

// connect opens a subscription tagged with the current generation so that
// messages from a replaced subscription are ignored.
func (m Model) connect() tea.Cmd {
	ctx, opts, gen, inbox := m.ctx, m.opts, m.gen, m.inbox
	return func() tea.Msg {
		handler := func(ev feed.Event) {
			select {
			case inbox <- FeedEventMsg{Event: ev, gen: gen}:
			case <-ctx.Done():
			}
		}
		sub, err := feed.Connect(ctx, opts.Feed, opts.Policy, opts.Address, handler)
		if err != nil {
			return SubscribeFailedMsg{Err: err, gen: gen}
		}
		go func() {
			err := sub.Wait()
			select {
			case inbox <- SubscriptionEndedMsg{State: sub.State(), Err: err, gen: gen}:
			case <-ctx.Done():
			}
		}()
		return SubscribedMsg{Sub: sub, gen: gen}
	}
}

// listen returns the next inbox message. Exactly one listen is pending at a
// time, which keeps feed messages in arrival order.
func (m Model) listen() tea.Cmd {
	ctx, inbox := m.ctx, m.inbox
	return func() tea.Msg {
		select {
		case msg := <-inbox:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	httpClient := m.opts.HTTP
	return func() tea.Msg {
		h, err := httpClient.GetHealth()
		return HealthMsg{Health: h, Err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.posts.Width = msg.Width
		m.posts.Height = max(msg.Height-5, 3)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case status.PulseMsg:
		return m, m.statusBar.Update(msg)

	case SubscribedMsg:
		if msg.gen != m.gen {
			msg.Sub.Close()
			return m, nil
		}
		m.sub = msg.Sub
		m.statusBar.Connection = feed.Open.String()
		m.statusBar.ReportStatus("Subscribed to " + msg.Sub.Address())
		m.frameLog.Addf(debug.KindConn, "open %s", msg.Sub.Target())
		return m, nil

	case SubscribeFailedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.statusBar.Connection = feed.Failed.String()
		m.statusBar.ReportError(msg.Err)
		m.frameLog.Addf(debug.KindError, "subscribe: %v", msg.Err)
		return m, nil

	case FeedEventMsg:
		if msg.gen != m.gen {
			return m, m.listen()
		}
		return m, tea.Batch(m.Dispatch(msg.Event), m.listen())

	case SubscriptionEndedMsg:
		if msg.gen != m.gen {
			return m, m.listen()
		}
		return m, tea.Batch(m.ended(msg), m.listen())

	case HealthMsg:
		if msg.Err != nil {
			m.frameLog.Addf(debug.KindError, "health: %v", msg.Err)
			return m, nil
		}
		h := msg.Health
		m.frameLog.Addf(debug.KindConn, "health: %d subscribers, rss %s, cpu %.1f%%, up %s",
			h.Subscribers, humanize.IBytes(h.RSSBytes), h.CPUPercent, h.Uptime)
		return m, nil
	}

	return m, nil
}

// Dispatch routes one decoded frame: errors to the status slot, posts to
// the front of the post list.
func (m *Model) Dispatch(ev feed.Event) tea.Cmd {
	switch ev := ev.(type) {
	case feed.ErrorEvent:
		m.statusBar.ReportError(ev)
		m.frameLog.Addf(debug.KindError, "feed error: %s", ev.Message)
		return nil
	case feed.PostEvent:
		e := m.posts.Prepend(ev.HTML)
		m.statusBar.Posts = m.posts.Len()
		m.frameLog.Addf(debug.KindPost, "post %s (%d bytes)", e.ID, len(ev.HTML))
		return m.statusBar.Bump()
	default:
		glog.Warningf("unexpected feed event %T", ev)
		return nil
	}
}

func (m *Model) ended(msg SubscriptionEndedMsg) tea.Cmd {
	m.sub = nil
	m.statusBar.Connection = msg.State.String()

	if msg.Err == nil {
		m.frameLog.Add(debug.KindConn, "closed")
		// Keep an in-band error visible after the origin hangs up.
		if !m.statusBar.Display().IsError {
			m.statusBar.ReportStatus("Feed closed")
		}
		return nil
	}

	m.statusBar.ReportError(msg.Err)
	m.frameLog.Addf(debug.KindError, "%s: %v", msg.State, msg.Err)
	if m.opts.Policy.ShouldResubscribe(msg.Err) {
		return m.reconnect()
	}
	return nil
}

func (m *Model) reconnect() tea.Cmd {
	if m.sub != nil {
		m.sub.Close()
		m.sub = nil
	}
	m.gen++
	m.statusBar.Connection = feed.Connecting.String()
	m.frameLog.Add(debug.KindConn, "reconnecting")
	return m.connect()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		if m.sub != nil {
			m.sub.Close()
		}
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		if key.Matches(msg, m.keys.Escape) {
			m.overlay = OverlayNone
			return m, nil
		}
		if m.overlay == OverlayFrameLog {
			switch {
			case key.Matches(msg, m.keys.Up):
				m.frameLog.ScrollUp(1)
			case key.Matches(msg, m.keys.Down):
				m.frameLog.ScrollDown(1)
			}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.posts.Down()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.posts.Up()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if e, ok := m.posts.Selected(); ok {
			m.detail = detail.New(e, m.opts.Address)
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.FrameLog):
		m.overlay = OverlayFrameLog
		return m, nil

	case key.Matches(msg, m.keys.Health):
		if m.opts.HTTP == nil {
			return m, nil
		}
		m.frameLog.Add(debug.KindNav, "health requested")
		return m, m.fetchHealth()

	case key.Matches(msg, m.keys.Reconnect):
		m.statusBar.ReportStatus("Reconnecting to " + m.opts.Address)
		return m, m.reconnect()
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayDetail:
		body = m.detail.View()
	case OverlayFrameLog:
		body = m.frameLog.View(m.width, m.height-4)
	default:
		body = m.posts.View()
	}

	sections := []string{m.statusBar.View()}
	if banner := m.disconnectedBanner(); banner != "" {
		sections = append(sections, banner)
	}
	sections = append(sections,
		body,
		theme.StyleDimmed.Render("  j/k:navigate  enter:detail  d:frames  h:health  r:reconnect  q:quit"),
	)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) disconnectedBanner() string {
	if m.statusBar.Connection != feed.Closed.String() && m.statusBar.Connection != feed.Failed.String() {
		return ""
	}
	return theme.StyleError.Render(fmt.Sprintf("  DISCONNECTED from %s  (r to reconnect)", m.opts.Address))
}
