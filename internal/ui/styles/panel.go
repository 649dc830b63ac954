package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	borderTopLeft     = "╭"
	borderTopRight    = "╮"
	borderBottomLeft  = "╰"
	borderBottomRight = "╯"
	borderHorizontal  = "─"
	borderVertical    = "│"
)

// RenderPanel draws content inside a rounded border with the title set in
// the top edge: ╭─ Title ─────╮. The panel is as tall as its content and
// at least width columns wide.
func RenderPanel(content, title string, width int, borderColor lipgloss.TerminalColor) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	inner := width - 2
	for _, l := range lines {
		if w := lipgloss.Width(l); w > inner {
			inner = w
		}
	}
	if inner < 1 {
		inner = 1
	}

	border := lipgloss.NewStyle().Foreground(borderColor)

	var b strings.Builder
	b.WriteString(topBorder(title, inner, border))
	b.WriteString("\n")
	for _, l := range lines {
		pad := inner - lipgloss.Width(l)
		b.WriteString(border.Render(borderVertical))
		b.WriteString(l + strings.Repeat(" ", pad))
		b.WriteString(border.Render(borderVertical))
		b.WriteString("\n")
	}
	b.WriteString(border.Render(borderBottomLeft + strings.Repeat(borderHorizontal, inner) + borderBottomRight))
	return b.String()
}

func topBorder(title string, inner int, border lipgloss.Style) string {
	// "─ " + title + " " needs four columns beyond the title.
	if title == "" || inner < 4 {
		return border.Render(borderTopLeft + strings.Repeat(borderHorizontal, inner) + borderTopRight)
	}

	title = TruncateString(title, inner-4)
	rest := inner - 3 - lipgloss.Width(title)
	if rest < 0 {
		rest = 0
	}
	return border.Render(borderTopLeft+borderHorizontal+" ") +
		TitleStyle.Render(title) +
		border.Render(" "+strings.Repeat(borderHorizontal, rest)+borderTopRight)
}

// KeyValues renders aligned "label  value" rows.
func KeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if w := lipgloss.Width(p[0]); w > width {
			width = w
		}
	}
	rows := make([]string, len(pairs))
	for i, p := range pairs {
		label := p[0] + strings.Repeat(" ", width-lipgloss.Width(p[0]))
		rows[i] = LabelStyle.Render(label) + "  " + ValueStyle.Render(p[1])
	}
	return strings.Join(rows, "\n")
}
