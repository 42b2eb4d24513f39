package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

var tableColumns = []table.Column{
	{Title: "Score", Width: 6},
	{Title: "Severity", Width: 10},
	{Title: "Slug", Width: 30},
	{Title: "Installs", Width: 10},
	{Title: "Days", Width: 6},
	{Title: "Flags", Width: 36},
}

// buildRows converts results to table rows.
func buildRows(results []models.ResultRecord) []table.Row {
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, table.Row{
			strconv.Itoa(r.Score),
			severityLabel(r.Severity()),
			truncate(r.Slug, tableColumns[2].Width),
			strconv.Itoa(r.ActiveInstalls),
			days(r.DaysSinceUpdate),
			truncate(flagSummary(r.SecurityFlags), tableColumns[5].Width),
		})
	}
	return rows
}

func severityLabel(s models.Severity) string {
	return strings.ToUpper(string(s))
}

func days(d int) string {
	if d < 0 {
		return "?"
	}
	return strconv.Itoa(d)
}

// flagSummary lists each flag family once, in first-seen order
func flagSummary(flags []string) string {
	seen := make(map[string]bool, len(flags))
	families := make([]string, 0, len(flags))
	for _, f := range flags {
		fam := aggregator.Family(f)
		if !seen[fam] {
			seen[fam] = true
			families = append(families, fam)
		}
	}
	return strings.Join(families, ",")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	const ellipsis = "..."
	if maxLen <= len(ellipsis) {
		return s[:maxLen]
	}
	return s[:maxLen-len(ellipsis)] + ellipsis
}

// newTable creates a bubbles table with standard columns and styling.
func newTable(rows []table.Row, height int) table.Model {
	t := table.New(
		table.WithColumns(tableColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorAccent).
		Bold(false)
	t.SetStyles(s)

	return t
}
