package tui

import (
	"fmt"
	"strings"

	"github.com/ppiankov/wphunter/internal/models"
)

// detailHeight is the fixed number of lines for the detail panel.
const detailHeight = 6

// renderDetail produces the detail view for a selected result.
func renderDetail(r *models.ResultRecord, width int) string {
	if r == nil {
		return styleDetailPanel.Width(width).Render("No result selected")
	}

	var b strings.Builder

	sevStyled := severityStyle(r.Severity()).Render(severityLabel(r.Severity()))
	b.WriteString(fmt.Sprintf("%s  %d  %s (%s %s)\n", sevStyled, r.Score, r.Slug, r.Kind, r.Version))

	meta := []string{fmt.Sprintf("Installs: %d", r.ActiveInstalls)}
	if r.DaysSinceUpdate >= 0 {
		meta = append(meta, fmt.Sprintf("Updated: %d days ago", r.DaysSinceUpdate))
	}
	if r.TestedWP != "" {
		meta = append(meta, "Tested: "+r.TestedWP)
	}
	if r.Author != "" {
		author := r.Author
		if r.AuthorTrusted {
			author += " (trusted)"
		}
		meta = append(meta, "Author: "+author)
	}
	b.WriteString(strings.Join(meta, "  "))
	b.WriteString("\n")

	if len(r.RiskTags) > 0 {
		b.WriteString(fmt.Sprintf("Risk: %s\n", strings.Join(r.RiskTags, ", ")))
	}
	if len(r.SecurityFlags) > 0 {
		b.WriteString(fmt.Sprintf("Security: %s\n", strings.Join(r.SecurityFlags, ", ")))
	}
	if len(r.FeatureFlags) > 0 {
		b.WriteString(fmt.Sprintf("Features: %s", strings.Join(r.FeatureFlags, ", ")))
	}

	return styleDetailPanel.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}
