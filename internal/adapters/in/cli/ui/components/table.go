package components

import (
	"github.com/bnema/dockship/internal/adapters/in/cli/ui/styles"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RenderTable renders rows under headers. Plain output drops colors and
// borders.
func RenderTable(headers []string, rows [][]string, plain bool) string {
	tbl := table.New().
		Headers(headers...).
		Rows(rows...)

	if plain {
		return tbl.
			Border(lipgloss.HiddenBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().PaddingRight(2)
			}).
			String()
	}

	return tbl.
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Theme.TableBorder).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Theme.TableHeader
			}
			return styles.Theme.TableCell
		}).
		String()
}
