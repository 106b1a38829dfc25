// Package detail renders the post detail overlay.
package detail

import (
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/feedwatch/feedwatch/internal/theme"
	"github.com/feedwatch/feedwatch/internal/views/posts"
)

const (
	panelWidth = 72
	labelWidth = 10
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)
)

// Model holds the state for the detail overlay.
type Model struct {
	Entry   posts.Entry
	Address string
	// Style is a glamour standard style name; "notty" when empty.
	Style string
}

// New creates a detail model for the given entry.
func New(e posts.Entry, address string) Model {
	return Model{Entry: e, Address: address}
}

// View renders the detail panel.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("Post "+m.Entry.ID.String()) + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")
	writeRow(&b, "Feed", m.Address)
	writeRow(&b, "Received", m.Entry.Received.Format(time.DateTime))
	writeRow(&b, "Size", humanize.IBytes(uint64(len(m.Entry.HTML))))
	b.WriteString("\n")
	b.WriteString(m.renderBody())
	b.WriteString("\n" + styleFooter.Render("esc:close"))

	return stylePanel.Width(panelWidth).Render(b.String())
}

// renderBody shows the markup as a highlighted code block. If glamour
// fails the raw markup is shown instead.
func (m Model) renderBody() string {
	style := m.Style
	if style == "" {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(panelWidth-6),
	)
	if err != nil {
		return m.Entry.HTML
	}
	fence := codeFence(m.Entry.HTML)
	out, err := r.Render(fence + "html\n" + m.Entry.HTML + "\n" + fence + "\n")
	if err != nil {
		return m.Entry.HTML
	}
	return strings.Trim(out, "\n")
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label) + styleValue.Render(value) + "\n")
}

// codeFence returns a backtick fence longer than any backtick run in body,
// so the markup cannot close the code block early.
func codeFence(body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}
