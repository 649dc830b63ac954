package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RenderTable draws rows under headers with rounded borders.
func RenderTable(headers []string, rows [][]string) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(TextSecondaryColor).Padding(0, 1)
	cell := lipgloss.NewStyle().Foreground(TextPrimaryColor).Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(BorderDefaultColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.Render()
}
