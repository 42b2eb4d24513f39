package tui

import (
	"fmt"
	"strings"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

// headerHeight is the number of terminal lines the header occupies.
const headerHeight = 5

// scoreBuckets are the lower bounds of the score histogram bars
var scoreBuckets = []int{0, 10, 20, 35, 50, 75, 100, 150}

// renderHeader produces the header string from the session and its summary.
func renderHeader(session *models.ScanSession, summary aggregator.Summary, histogram []int, width int) string {
	var b strings.Builder

	// Line 1: title and session
	b.WriteString("WPHunter")
	if session != nil {
		status := statusStyle(session.Status).Render(string(session.Status))
		b.WriteString(fmt.Sprintf("  Session: %s  %s", shortID(session.ID), status))
		if !session.CreatedAt.IsZero() {
			b.WriteString("  " + session.CreatedAt.Format("2006-01-02 15:04"))
		}
	}
	b.WriteString("\n")

	// Line 2: totals
	b.WriteString(fmt.Sprintf("Results: %d  High risk: %d (>=%d)  Max: %d  Avg: %.1f",
		summary.Emitted, summary.HighRisk, summary.HighRiskThreshold, summary.MaxScore, summary.AverageScore))
	b.WriteString("\n")

	// Line 3: severity breakdown
	sevParts := make([]string, 0, len(models.Severities))
	for _, sev := range models.Severities {
		if count := summary.BySeverity[string(sev)]; count > 0 {
			label := fmt.Sprintf("%s:%d", strings.ToUpper(string(sev)[:1]), count)
			sevParts = append(sevParts, severityStyle(sev).Render(label))
		}
	}
	if len(sevParts) > 0 {
		b.WriteString(strings.Join(sevParts, "  "))
	}
	b.WriteString("\n")

	// Line 4: score distribution
	if len(histogram) > 0 {
		b.WriteString("Scores: ")
		b.WriteString(renderSparkline(histogram))
	}

	return styleHeader.Width(width).Render(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// scoreHistogram counts results per score bucket
func scoreHistogram(results []models.ResultRecord) []int {
	if len(results) == 0 {
		return nil
	}
	counts := make([]int, len(scoreBuckets))
	for _, r := range results {
		idx := 0
		for i, lower := range scoreBuckets {
			if r.Score >= lower {
				idx = i
			}
		}
		counts[idx]++
	}
	return counts
}

// renderSparkline converts an int slice to a unicode sparkline string.
func renderSparkline(values []int) string {
	if len(values) == 0 {
		return ""
	}

	bars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var b strings.Builder
	for _, v := range values {
		if hi == lo {
			b.WriteRune(bars[len(bars)/2])
		} else {
			normalized := float64(v-lo) / float64(hi-lo)
			idx := int(normalized * float64(len(bars)-1))
			b.WriteRune(bars[idx])
		}
	}

	b.WriteString(fmt.Sprintf(" [%d..%d+]", scoreBuckets[0], scoreBuckets[len(scoreBuckets)-1]))
	return b.String()
}
