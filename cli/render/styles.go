package render

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	highlightColor = lipgloss.Color("#3B82F6")
)

// Styles groups the styles used by tables and streamed chat output.
type Styles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Tool    lipgloss.Style
	Data    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}

// NewStyles returns the colored styles, or unstyled ones when noColor is set.
func NewStyles(noColor bool) Styles {
	if noColor {
		p := plain()
		return Styles{Header: p, Label: p, Muted: p, Tool: p, Data: p, Success: p, Warning: p, Error: p, Box: p}
	}
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(primaryColor),
		Label:   lipgloss.NewStyle().Foreground(mutedColor),
		Muted:   lipgloss.NewStyle().Foreground(mutedColor),
		Tool:    lipgloss.NewStyle().Foreground(highlightColor),
		Data:    lipgloss.NewStyle().Foreground(primaryColor),
		Success: lipgloss.NewStyle().Foreground(successColor),
		Warning: lipgloss.NewStyle().Foreground(warningColor),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(errorColor),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1),
	}
}

// Status returns the style for a terminal or tool status.
func (s Styles) Status(status string) lipgloss.Style {
	switch status {
	case "completed", "success":
		return s.Success
	case "pending", "cancelled":
		return s.Warning
	case "error", "failed":
		return s.Error
	}
	return s.Label
}
