package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Each kind of node has a distinct, consistent color.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timing, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	// Agent steps
	flowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	// Backend calls - Blue
	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	// Validators - Yellow
	validatorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	// Delegations - Magenta
	subagentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	subagentDimStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("5"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	nodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(9).
			Align(lipgloss.Right)

	blockHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")).
				Italic(true)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)
