// internal/ui/styles.go

package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	errColor  = lipgloss.AdaptiveColor{Light: "#FF0000", Dark: "#FF5555"}

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginLeft(2)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205")).
				Bold(true)

	ItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	DescriptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243")).
				MarginLeft(2)

	InputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(highlight).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(errColor).
			Bold(true)

	WindowStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1, 2)
)
