package cmd

import "github.com/charmbracelet/lipgloss"

// LipGloss signature purple/pink palette
var (
	headerColor   = lipgloss.Color("#F780FF") // Bright pink
	questionColor = lipgloss.Color("#8BE9FD") // Cyan
	answerColor   = lipgloss.Color("#E9E9F4") // Light purple/white
	mutedColor    = lipgloss.Color("#6272A4") // Muted purple
	accentColor   = lipgloss.Color("#BD93F9") // Purple
	numberColor   = lipgloss.Color("#FF79C6") // Pink
	errorColor    = lipgloss.Color("#FF5555") // Red
	successColor  = lipgloss.Color("#50FA7B") // Green
	warningColor  = lipgloss.Color("#F1FA8C") // Yellow
)

var (
	headerStyle   = lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	questionStyle = lipgloss.NewStyle().Foreground(questionColor).Italic(true)
	answerStyle   = lipgloss.NewStyle().Foreground(answerColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	refStyle      = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	numberStyle   = lipgloss.NewStyle().Foreground(numberColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(successColor)
	warningStyle  = lipgloss.NewStyle().Foreground(warningColor)
	borderStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)
