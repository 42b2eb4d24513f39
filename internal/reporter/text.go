package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

// maxTextResults bounds the result listing of a text report
const maxTextResults = 20

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(writer io.Writer) *TextReporter {
	return &TextReporter{
		writer: writer,
	}
}

// Generate creates a text report from the document
func (r *TextReporter) Generate(doc *Document) error {
	r.printHeader()
	r.printf("Generated: %s\n", formatTimestamp(doc.GeneratedAt))
	if doc.SessionID != "" {
		r.printf("Session: %s\n", doc.SessionID)
	}
	r.printf("\n")

	if doc.Summary != nil {
		r.printSummary(doc.Summary)
	}

	r.printResults(doc.Results)

	if len(doc.Recommendations) > 0 {
		r.printRecommendations(doc.Recommendations)
	}
	return nil
}

// GenerateDiff prints a comparison of two sessions
func (r *TextReporter) GenerateDiff(d aggregator.Diff) error {
	r.printf("Session Diff:\n")
	r.printf("--------------------------------------------------\n")
	r.printf("  Previous: %s\n", d.PreviousSession)
	r.printf("  Current:  %s\n", d.CurrentSession)
	r.printf("  Direction: %s %s (high risk %+d)\n", d.Direction, aggregator.DirectionIndicator(d.Direction), d.HighRiskDelta)

	if len(d.Added) > 0 {
		r.printf("  Added (%d): %s\n", len(d.Added), strings.Join(d.Added, ", "))
	}
	if len(d.Removed) > 0 {
		r.printf("  Removed (%d): %s\n", len(d.Removed), strings.Join(d.Removed, ", "))
	}
	if len(d.Changed) > 0 {
		r.printf("  Score Changes:\n")
		for _, c := range d.Changed {
			r.printf("    %-40s %3d → %3d (%+d)\n", c.Slug, c.Previous, c.Current, c.Delta)
		}
	}
	if len(d.NewFlags) > 0 {
		r.printf("  New Security Flags:\n")
		slugs := make([]string, 0, len(d.NewFlags))
		for slug := range d.NewFlags {
			slugs = append(slugs, slug)
		}
		sort.Strings(slugs)
		for _, slug := range slugs {
			r.printf("    %s: %s\n", slug, strings.Join(d.NewFlags[slug], ", "))
		}
	}
	return nil
}

// GenerateExplanation prints the score breakdown of one result
func (r *TextReporter) GenerateExplanation(res models.ScoredResult) error {
	r.printf("%s (%s v%s)\n", res.Slug, res.Kind, res.Version)
	r.printf("--------------------------------------------------\n")
	r.printf("  Score: %d [%s]\n", res.Score, strings.ToUpper(string(res.Severity())))
	r.printf("  Active Installs: %d\n", res.ActiveInstalls)
	if res.DaysSinceUpdate >= 0 {
		r.printf("  Days Since Update: %d\n", res.DaysSinceUpdate)
	} else {
		r.printf("  Days Since Update: unknown\n")
	}
	if res.Author != "" {
		trust := "untrusted"
		if res.AuthorTrusted {
			trust = "trusted"
		}
		r.printf("  Author: %s (%s)\n", res.Author, trust)
	}

	if len(res.Contributions) == 0 {
		r.printf("\n  No score contributions recorded.\n")
		return nil
	}

	r.printf("\n  Contributions:\n")
	total := 0
	for _, c := range res.Contributions {
		total += c.Points
		r.printf("    %+4d  %-22s %s\n", c.Points, c.Signal, c.Label)
	}
	r.printf("    ----\n")
	r.printf("    %4d  total\n", total)

	if len(res.FeatureFlags) > 0 {
		r.printf("\n  Features: %s\n", strings.Join(res.FeatureFlags, ", "))
	}
	return nil
}

// printHeader prints the report header
func (r *TextReporter) printHeader() {
	r.printf("╔════════════════════════════════════════════╗\n")
	r.printf("║            WPHunter Scan Report            ║\n")
	r.printf("╚════════════════════════════════════════════╝\n\n")
}

// printSummary prints the overall summary section
func (r *TextReporter) printSummary(s *aggregator.Summary) {
	r.printf("Overall Summary:\n")
	r.printf("--------------------------------------------------\n")
	r.printf("  Evaluated: %d (%d skipped by filters)\n", s.Evaluated, s.Skipped)
	r.printf("  Emitted: %d\n", s.Emitted)
	r.printf("  High Risk: %d (score >= %d)\n", s.HighRisk, s.HighRiskThreshold)
	r.printf("  Max Score: %d, Average: %.1f\n", s.MaxScore, s.AverageScore)
	if s.Analyzed > 0 || s.DownloadsFailed > 0 {
		r.printf("  Analyzed: %d (%d downloads failed)\n", s.Analyzed, s.DownloadsFailed)
	}
	r.printf("\n")

	if len(s.BySeverity) > 0 {
		r.printf("Results by Severity:\n")
		for _, sev := range models.Severities {
			if n := s.BySeverity[string(sev)]; n > 0 {
				r.printf("  %s: %d\n", strings.ToUpper(string(sev)), n)
			}
		}
		r.printf("\n")
	}

	r.printCounts("Risk Tags:", s.ByRiskTag)
	r.printCounts("Security Flags:", s.BySecurityFlag)
}

// printCounts prints a map sorted by descending count then key
func (r *TextReporter) printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	r.printf("%s\n", title)
	for _, k := range keys {
		r.printf("  %s: %d\n", k, counts[k])
	}
	r.printf("\n")
}

// printResults lists the highest-scoring results
func (r *TextReporter) printResults(results []models.ScoredResult) {
	r.printf("Results (%d):\n", len(results))
	r.printf("--------------------------------------------------\n")
	if len(results) == 0 {
		r.printf("  No results.\n")
		return
	}

	sorted := make([]models.ScoredResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	for i, res := range sorted {
		if i == maxTextResults {
			r.printf("  ... and %d more\n", len(sorted)-maxTextResults)
			break
		}
		r.printf("  %3d [%-8s] %s", res.Score, strings.ToUpper(string(res.Severity())), res.Slug)
		if res.Version != "" {
			r.printf(" v%s", res.Version)
		}
		r.printf(" (%d installs)\n", res.ActiveInstalls)
		if tags := append(append([]string{}, res.RiskTags...), res.SecurityFlags...); len(tags) > 0 {
			r.printf("      %s\n", strings.Join(tags, ", "))
		}
	}
}

// printRecommendations prints the recommendations section
func (r *TextReporter) printRecommendations(recommendations []aggregator.Recommendation) {
	r.printf("\n")
	r.printf("Recommended Actions:\n")
	r.printf("--------------------------------------------------\n")

	i := 0
	for _, severity := range models.Severities {
		for _, rec := range recommendations {
			if rec.Severity != severity {
				continue
			}
			i++
			r.printf("  %d. [%s] %s\n", i, strings.ToUpper(string(rec.Severity)), rec.Action)
			r.printf("     Impact: %s\n", rec.Impact)
		}
	}
}

// printf is a helper to write formatted output
func (r *TextReporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.writer, format, args...)
}

// formatTimestamp formats a timestamp for display
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
