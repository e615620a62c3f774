// Package term implements the ui collaborators for a terminal: bubbletea prompts, progress bars
// for jobs and the live release dashboard.
package term

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)

	statusStyles = map[string]lipgloss.Style{
		"ACTIVE":    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"DEPLOYING": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"STOPPED":   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
)

func statusCell(status string) string {
	if s, ok := statusStyles[status]; ok {
		return s.Render(status)
	}
	return status
}
