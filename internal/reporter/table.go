package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/ppiankov/wphunter/internal/models"
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.Off}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting:   tw.CellFormatting{AutoWrap: tw.WrapNormal},
				Alignment:    tw.CellAlignment{Global: tw.AlignLeft},
				ColMaxWidths: tw.CellWidth{Global: 40},
			},
		}),
	)
}

// RenderSessions prints a session listing
func RenderSessions(w io.Writer, sessions []models.ScanSession) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No scan sessions recorded.")
		return err
	}

	table := newTable(w)
	table.Header([]string{"ID", "Created", "Status", "Found", "High Risk", "Error"})
	for _, s := range sessions {
		if err := table.Append([]string{
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			string(s.Status),
			fmt.Sprint(s.TotalFound),
			fmt.Sprint(s.HighRiskCount),
			truncate(s.ErrorMessage, 40),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderResults prints persisted results in the given order
func RenderResults(w io.Writer, records []models.ResultRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No results.")
		return err
	}

	table := newTable(w)
	table.Header([]string{"Score", "Severity", "Slug", "Version", "Installs", "Days", "Flags"})
	for _, r := range records {
		days := "?"
		if r.DaysSinceUpdate >= 0 {
			days = fmt.Sprint(r.DaysSinceUpdate)
		}
		flags := append(append([]string{}, r.RiskTags...), r.SecurityFlags...)
		if err := table.Append([]string{
			fmt.Sprint(r.Score),
			strings.ToUpper(string(r.Severity())),
			r.Slug,
			r.Version,
			fmt.Sprint(r.ActiveInstalls),
			days,
			truncate(strings.Join(flags, " "), 60),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
