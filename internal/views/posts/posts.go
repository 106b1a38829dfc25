// Package posts holds the ordered container of received posts. The newest
// post is always first; nothing is deduplicated or removed.
package posts

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/feedwatch/feedwatch/internal/theme"
	"github.com/oklog/ulid/v2"
)

const minWidth = 20

// Entry is one rendered post.
type Entry struct {
	ID       ulid.ULID
	HTML     string
	Received time.Time
}

// Text is the entry's displayed text content: the markup, verbatim.
func (e Entry) Text() string {
	return e.HTML
}

// Model is the post list view.
type Model struct {
	entries  []Entry
	selected int

	Width  int
	Height int

	now func() time.Time
}

// New creates an empty post list.
func New() Model {
	return Model{now: time.Now}
}

// Prepend inserts a post at the front of the list and returns its entry.
// A selection below the top stays on the same entry.
func (m *Model) Prepend(html string) Entry {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	e := Entry{ID: ulid.Make(), HTML: html, Received: now()}
	m.entries = append([]Entry{e}, m.entries...)
	if m.selected > 0 {
		m.selected++
	}
	return e
}

// Entries returns the posts, most recent first.
func (m Model) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of posts.
func (m Model) Len() int {
	return len(m.entries)
}

// Selected returns the highlighted entry.
func (m Model) Selected() (Entry, bool) {
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[m.selected], true
}

// Up moves the selection towards newer posts.
func (m *Model) Up() {
	if m.selected > 0 {
		m.selected--
	}
}

// Down moves the selection towards older posts.
func (m *Model) Down() {
	if m.selected < len(m.entries)-1 {
		m.selected++
	}
}

// View renders the visible window of the list around the selection.
func (m Model) View() string {
	width := max(m.Width, minWidth)
	height := max(m.Height, 3)

	title := theme.StyleHeader.Render(fmt.Sprintf("=== POSTS (%d) ", len(m.entries)))
	if len(m.entries) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render("  No posts yet"))
	}

	lines := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		lines = append(lines, m.renderLine(e, i == m.selected, width))
	}

	vp := viewport.New(width, height-1)
	vp.SetContent(strings.Join(lines, "\n"))
	if m.selected >= vp.Height {
		vp.SetYOffset(m.selected - vp.Height + 1)
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, vp.View())
}

func (m Model) renderLine(e Entry, selected bool, width int) string {
	prefix := "  "
	if selected {
		prefix = "> "
	}
	ts := theme.StyleDimmed.Render(e.Received.Format("15:04:05"))

	text := strings.Join(strings.Fields(e.Text()), " ")
	room := width - len(prefix) - 9
	if room > 3 && len(text) > room {
		text = truncate(text, room-3) + "..."
	}
	if selected {
		text = theme.StyleSelected.Render(text)
	}
	return prefix + ts + " " + text
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
