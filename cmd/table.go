package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const columnGap = "  "

// renderTable writes rows under header with columns padded to their widest
// cell. Widths are measured in terminal cells so wide titles stay aligned.
func renderTable(out io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	writeRow := func(row []string) {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i == len(row)-1 {
				cells[i] = cell
				continue
			}
			cells[i] = lipgloss.NewStyle().Width(widths[i]).Render(cell)
		}
		fmt.Fprintln(out, strings.Join(cells, columnGap))
	}

	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
}
