package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	borderColor  = lipgloss.Color("#6B7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)

// outcomeStyle colors an issue outcome.
func outcomeStyle(o dag.IssueOutcome) lipgloss.Style {
	switch {
	case o == dag.OutcomeCompleted:
		return successStyle
	case o == dag.OutcomeCompletedWithDebt, o == dag.OutcomeSkipped:
		return warningStyle
	case o.IsFailure():
		return errorStyle
	default:
		return mutedStyle
	}
}
