package styles

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// TruncateString truncates a string to fit within maxWidth, adding ellipsis if needed.
func TruncateString(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if maxWidth <= 3 && lipgloss.Width(s) > maxWidth {
		return strings.Repeat(".", maxWidth)
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// FormatDuration rounds d for display: milliseconds under a second,
// tenths of a second below a minute, whole seconds beyond.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// Status renders a build status in its colour.
func Status(status string) string {
	switch status {
	case "succeeded":
		return SuccessStyle.Render(status)
	case "failed":
		return ErrorStyle.Render(status)
	default:
		return WarningStyle.Render(status)
	}
}
