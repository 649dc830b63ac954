// Package styles holds the Lip Gloss styles for aircc's terminal output.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Text hierarchy
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	TextSecondaryColor = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#BBBBBB"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#696969"}

	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}
	AccentColor        = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}

	// Status
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}

	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(AccentColor)
	LabelStyle   = lipgloss.NewStyle().Foreground(TextSecondaryColor)
	ValueStyle   = lipgloss.NewStyle().Foreground(TextPrimaryColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(TextMutedColor)
	SuccessStyle = lipgloss.NewStyle().Foreground(StatusSuccessColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(StatusWarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(StatusErrorColor).Bold(true)

	// CommandStyle renders a failing command line.
	CommandStyle = lipgloss.NewStyle().Foreground(TextPrimaryColor).PaddingLeft(2)
)

// ApplyNoColor strips colours from every style, for NO_COLOR and pipes.
func ApplyNoColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
