package cmd

import "github.com/charmbracelet/lipgloss"

// Single-accent palette for CLI output.
const (
	colorAccent    = "111" // soft blue for headers and highlights
	colorAccentDim = "67"
	colorGray      = "245"
	colorRed       = "196"
	colorYellow    = "220"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorRed))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccentDim))
)
