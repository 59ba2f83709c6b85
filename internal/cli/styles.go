package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorDim    = lipgloss.Color("241")
	colorAccent = lipgloss.Color("39")

	styleTitle    = lipgloss.NewStyle().Bold(true)
	styleHeader   = lipgloss.NewStyle().Foreground(colorDim)
	styleURL      = lipgloss.NewStyle().Foreground(colorDim)
	styleDuration = lipgloss.NewStyle().Foreground(colorAccent)
	styleEmpty    = lipgloss.NewStyle().Faint(true)
	styleDomain   = lipgloss.NewStyle().Width(28)
	styleLabel    = lipgloss.NewStyle().Width(6).Align(lipgloss.Right)
	styleBarFill  = lipgloss.NewStyle().Foreground(lipgloss.Color("159"))
	styleBarEmpty = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)
