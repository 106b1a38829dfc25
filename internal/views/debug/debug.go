// Package debug provides the frame log overlay: a bounded record of
// connection changes, received frames and failures for the current feed.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/feedwatch/feedwatch/internal/theme"
)

const (
	maxEntries = 200

	stampLayout = "15:04:05.000"
	kindWidth   = 5
	// prefixWidth is the stamp, the kind column and two separators.
	prefixWidth = len(stampLayout) + kindWidth + 2
	// panelChrome is the horizontal padding inside the border.
	panelChrome = 4
	minPanel    = 20
)

// Kind classifies a log entry.
type Kind string

const (
	KindConn  Kind = "conn"
	KindPost  Kind = "post"
	KindError Kind = "err"
	KindNav   Kind = "nav"
)

func (k Kind) color() lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorFrame
	case KindPost:
		return theme.ColorPost
	case KindError:
		return theme.ColorDanger
	case KindNav:
		return theme.ColorNav
	default:
		return theme.ColorDimmed
	}
}

type Entry struct {
	Time    time.Time
	Kind    Kind
	Message string
}

// Model is the frame log. Only the newest maxEntries are retained; the
// per-kind tallies cover the whole session.
type Model struct {
	Entries []Entry
	// Offset counts entries hidden below the view, 0 meaning follow.
	Offset int

	tally map[Kind]int
	now   func() time.Time
}

func New() Model {
	return Model{now: time.Now, tally: make(map[Kind]int)}
}

// Add records an entry and returns the view to the newest line.
func (m *Model) Add(kind Kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	if m.tally == nil {
		m.tally = make(map[Kind]int)
	}
	m.tally[kind]++
	m.Entries = append(m.Entries, Entry{Time: now(), Kind: kind, Message: message})
	if over := len(m.Entries) - maxEntries; over > 0 {
		m.Entries = m.Entries[over:]
	}
	m.Offset = 0
}

func (m *Model) Addf(kind Kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

// Count returns how many entries of kind were recorded, evicted ones
// included.
func (m Model) Count(kind Kind) int {
	return m.tally[kind]
}

// ScrollUp reveals older entries; at least one entry stays visible.
func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

// ScrollDown moves back towards the newest entry.
func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the log as a panel of the given outer size.
func (m Model) View(width, height int) string {
	panel := max(width-4, minPanel)
	textWidth := panel - panelChrome
	rows := max(height-6, 3)

	header := theme.StyleHeader.Render(" FRAME LOG ") + " " + m.summary()
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	var body string
	if len(m.Entries) == 0 {
		body = theme.StyleDimmed.Render("  No frames yet.")
	} else {
		end := max(len(m.Entries)-m.Offset, 0)
		start := max(end-rows, 0)
		lines := make([]string, 0, end-start)
		for _, e := range m.Entries[start:end] {
			lines = append(lines, renderEntry(e, textWidth))
		}
		body = strings.Join(lines, "\n")
		if m.Offset > 0 {
			body += "\n" + theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.Offset))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", help)
	return lipgloss.NewStyle().
		Width(panel).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) summary() string {
	return theme.StyleDimmed.Render(fmt.Sprintf("posts %d  errors %d  conn %d",
		m.Count(KindPost), m.Count(KindError), m.Count(KindConn)))
}

// renderEntry lays out one entry within width display cells. The message
// is cut by display width and dropped entirely when no room is left.
func renderEntry(e Entry, width int) string {
	stamp := theme.StyleDimmed.Render(e.Time.Format(stampLayout))
	kind := lipgloss.NewStyle().Foreground(e.Kind.color()).Width(kindWidth).Render(string(e.Kind))
	line := stamp + " " + kind
	if room := width - prefixWidth; room > 0 {
		line += " " + ansi.Truncate(e.Message, room, "…")
	}
	return line
}
