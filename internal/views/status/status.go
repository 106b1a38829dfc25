// Package status renders the single status slot of the feedwatch TUI.
package status

import (
	"fmt"
	"math"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/feedwatch/feedwatch/internal/theme"
)

const (
	errorPrefix = "Error: "
	errorMarker = "✗ "

	pulseFPS = 30
)

// Display is what the status slot currently shows. There is no history.
type Display struct {
	Text    string
	IsError bool
}

// PulseMsg advances the new-post indicator animation by one frame.
type PulseMsg struct{}

// Model holds the status bar state.
type Model struct {
	display Display

	Connection string
	Address    string
	Posts      int
	Width      int

	spring    harmonica.Spring
	pulse     float64
	velocity  float64
	animating bool
}

// New creates a status bar model.
func New() Model {
	return Model{
		Connection: "connecting",
		spring:     harmonica.NewSpring(harmonica.FPS(pulseFPS), 6.0, 0.6),
	}
}

// ReportStatus replaces the slot text and returns it to normal presentation.
func (m *Model) ReportStatus(message string) {
	m.display = Display{Text: message}
}

// ReportError replaces the slot text with the error's message and switches
// to error presentation. Repeated reports never compound the marker.
func (m *Model) ReportError(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	m.display = Display{Text: errorPrefix + msg, IsError: true}
}

// Display returns the current slot content.
func (m Model) Display() Display {
	return m.display
}

// Bump restarts the new-post pulse. The returned command drives the
// animation and is nil when a pulse is already running.
func (m *Model) Bump() tea.Cmd {
	m.pulse = 1
	m.velocity = 0
	if m.animating {
		return nil
	}
	m.animating = true
	return pulseTick()
}

// Update advances the pulse on PulseMsg.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(PulseMsg); !ok || !m.animating {
		return nil
	}
	m.pulse, m.velocity = m.spring.Update(m.pulse, m.velocity, 0)
	if math.Abs(m.pulse) < 0.01 && math.Abs(m.velocity) < 0.01 {
		m.pulse, m.velocity = 0, 0
		m.animating = false
		return nil
	}
	return pulseTick()
}

// Pulsing reports whether the new-post indicator is visible.
func (m Model) Pulsing() bool {
	return m.animating
}

func pulseTick() tea.Cmd {
	return tea.Tick(time.Second/pulseFPS, func(time.Time) tea.Msg {
		return PulseMsg{}
	})
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	connStr := lipgloss.NewStyle().
		Foreground(theme.StateColor(m.Connection)).
		Render(theme.StateGlyph(m.Connection) + " " + m.Connection)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr
	if m.Address != "" {
		content += sep + theme.StyleHeader.Render(m.Address)
	}
	content += sep + fmt.Sprintf("%d posts", m.Posts)

	if m.animating && m.pulse > 0.05 {
		color := theme.ColorDimmed
		if m.pulse > 0.4 {
			color = theme.ColorPost
		}
		content += " " + lipgloss.NewStyle().Foreground(color).Render("◆ new")
	}

	if m.display.Text != "" {
		var msg string
		if m.display.IsError {
			msg = theme.StyleError.Render(errorMarker + m.display.Text)
		} else {
			msg = lipgloss.NewStyle().Foreground(theme.ColorBright).Render(m.display.Text)
		}
		content += sep + msg
	}

	borderColor := theme.ColorBorder
	if m.display.IsError {
		borderColor = theme.ColorDanger
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(borderColor).
		Render(content)
}
