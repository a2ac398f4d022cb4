package importreport

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/phillip-england/hrsuite/internal/importer"
)

// Options controls terminal rendering.
type Options struct {
	// Expanded prints every error message of a row instead of the headline.
	Expanded bool
}

var (
	successTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
	failureTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Render writes the report for result to w.
func Render(w io.Writer, result importer.Result, opts Options) error {
	report := Build(result)

	var b strings.Builder
	if report.Success {
		b.WriteString(successTitle.Render(report.Title))
	} else {
		b.WriteString(failureTitle.Render(report.Title))
	}
	b.WriteString("\n")
	b.WriteString(report.Summary)
	b.WriteString("\n")

	if report.Success {
		if len(report.Created) > 0 {
			b.WriteString("\n")
			writeTable(&b, []string{"ROW", "EMAIL", "NAME", "ROLE"}, createdCells(report.Created))
		}
	} else {
		b.WriteString("\n")
		writeTable(&b, []string{"ROW", "EMAIL", "ERROR"}, errorCells(report.ErrorRows, opts.Expanded))
		if !opts.Expanded {
			b.WriteString(dimStyle.Render("run with --expand to see every error per row"))
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("write import report: %w", err)
	}
	return nil
}

func createdCells(lines []CreatedLine) [][]string {
	out := make([][]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, []string{strconv.Itoa(line.Row), line.Email, line.Name, line.Role})
	}
	return out
}

func errorCells(lines []ErrorLine, expanded bool) [][]string {
	var out [][]string
	for _, line := range lines {
		email := line.Email
		if email == "" {
			email = "-"
		}
		if !expanded || len(line.Details) == 0 {
			out = append(out, []string{strconv.Itoa(line.Row), email, line.Headline})
			continue
		}
		for i, detail := range line.Details {
			if i == 0 {
				out = append(out, []string{strconv.Itoa(line.Row), email, detail})
			} else {
				out = append(out, []string{"", "", detail})
			}
		}
	}
	return out
}

func writeTable(b *strings.Builder, header []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	b.WriteString(t.String())
	b.WriteString("\n")
}
