package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders reports as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a report as a table.
func (f *TableFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if report.Title != "" {
		t.SetTitle(report.Title)
	}
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})

	failed := 0
	for _, c := range report.Checks {
		if c.Status == StatusFail {
			failed++
		}
		t.AppendRow(table.Row{c.Name, statusLabel(c.Status), c.Detail})
	}

	summary := "all checks passed"
	if failed > 0 {
		summary = fmt.Sprintf("%d/%d failed", failed, len(report.Checks))
	}
	t.AppendFooter(table.Row{"", "", summary})

	return t.Render(), nil
}
