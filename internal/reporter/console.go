package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scan"
)

// ConsoleObserver prints each result as it is emitted
type ConsoleObserver struct {
	writer    io.Writer
	threshold int
	count     int
}

var _ scan.RunObserver = (*ConsoleObserver)(nil)

// NewConsoleObserver creates an observer that highlights results at or above threshold
func NewConsoleObserver(writer io.Writer, threshold int) *ConsoleObserver {
	return &ConsoleObserver{writer: writer, threshold: threshold}
}

// OnRunStart implements scan.RunObserver
func (c *ConsoleObserver) OnRunStart(sessionID string) {
	fmt.Fprintf(c.writer, "%s %s\n", color.CyanString("Scan session"), sessionID)
}

// OnResult implements scan.Observer
func (c *ConsoleObserver) OnResult(r models.ScoredResult) {
	c.count++
	line := fmt.Sprintf("%3d %s %s", r.Score, severityLabel(r.Severity()), r.Slug)
	if r.Version != "" {
		line += " v" + r.Version
	}
	line += fmt.Sprintf(" (%d installs", r.ActiveInstalls)
	if r.DaysSinceUpdate >= 0 {
		line += fmt.Sprintf(", %dd", r.DaysSinceUpdate)
	}
	line += ")"
	fmt.Fprintln(c.writer, line)

	if len(r.SecurityFlags) > 0 {
		fmt.Fprintf(c.writer, "      %s\n", color.RedString(strings.Join(r.SecurityFlags, " ")))
	}
	if len(r.RiskTags) > 0 && r.Score >= c.threshold {
		fmt.Fprintf(c.writer, "      %s\n", color.YellowString(strings.Join(r.RiskTags, " ")))
	}
}

// OnRunEnd implements scan.RunObserver
func (c *ConsoleObserver) OnRunEnd(report *scan.Report) {
	if report == nil {
		return
	}
	s := report.Summary
	if report.Error != "" {
		fmt.Fprintf(c.writer, "\n%s %s\n", color.RedString("Scan failed:"), report.Error)
	}
	fmt.Fprintf(c.writer, "\n%s evaluated %d, emitted %d, skipped %d, high risk %s\n",
		color.CyanString("Done:"), s.Evaluated, s.Emitted, s.Skipped, highRiskLabel(s.HighRisk))
}

// Count returns how many results were printed
func (c *ConsoleObserver) Count() int {
	return c.count
}

func severityLabel(s models.Severity) string {
	label := fmt.Sprintf("[%-8s]", strings.ToUpper(string(s)))
	switch s {
	case models.SeverityCritical:
		return color.New(color.FgHiRed, color.Bold).Sprint(label)
	case models.SeverityHigh:
		return color.RedString(label)
	case models.SeverityMedium:
		return color.YellowString(label)
	case models.SeverityLow:
		return color.BlueString(label)
	default:
		return color.WhiteString(label)
	}
}

func highRiskLabel(n int) string {
	if n == 0 {
		return color.GreenString("0")
	}
	return color.RedString("%d", n)
}
