package utils

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// DefaultWidth is used when the terminal width is unknown
const DefaultWidth = 100

var (
	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#83a598"))

	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#665c54")).
			Padding(0, 1)
)

// RenderMarkdown renders md for the terminal, wrapped at width.
// Falls back to plain word wrapping when the renderer fails.
func RenderMarkdown(md string, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		if out, err := r.Render(md); err == nil {
			return out
		}
	}
	return wordwrap.String(md, width)
}

// SideBySide renders two titled panels next to each other within width
func SideBySide(leftTitle, left, rightTitle, right string, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	// Border and padding take four columns per panel
	inner := width/2 - 4
	if inner < 10 {
		inner = 10
	}

	leftPanel := panel(leftTitle, left, inner)
	rightPanel := panel(rightTitle, right, inner)

	height := max(lipgloss.Height(leftPanel), lipgloss.Height(rightPanel))
	leftPanel = lipgloss.PlaceVertical(height, lipgloss.Top, leftPanel)
	rightPanel = lipgloss.PlaceVertical(height, lipgloss.Top, rightPanel)

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func panel(title, body string, width int) string {
	lines := []string{panelTitle.Render(title), ""}
	lines = append(lines, wordwrap.String(body, width))
	return panelBorder.Width(width + 2).Render(strings.Join(lines, "\n"))
}
