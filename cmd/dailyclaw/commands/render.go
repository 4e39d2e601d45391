package commands

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderMarkdown renders assistant replies for the terminal. Rendering
// errors fall back to the raw text.
func renderMarkdown(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	out, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// maskSecret hides all but the last four characters of a literal secret.
// ${VAR} references are shown as is.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "${"):
		return s
	case len(s) <= 8:
		return "****"
	}
	return "****" + s[len(s)-4:]
}
