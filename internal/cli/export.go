package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/reporter"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export [session-id|latest]",
	Short: "Export a stored session as a report",
	Long: `Render the results of a stored session as a report, with a summary
and prioritized recommendations.

Supported formats:
  json   Structured JSON for programmatic consumption
  csv    Tabular format for spreadsheets
  html   Standalone HTML page
  xlsx   Excel workbook (requires --output)
  text   Human-readable terminal report

When --format is omitted it is inferred from the --output extension.

Example:
  wphunter export latest -o findings.xlsx
  wphunter export <session-id> --format html -o report.html
  wphunter export latest --format text`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "",
		"output format: json, csv, html, xlsx or text")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"write output to file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format := reporter.FormatFromPath(exportOutput, reporter.FormatJSON)
	if exportFormat != "" {
		f, err := reporter.ParseFormat(exportFormat)
		if err != nil {
			return &ValidationError{Message: err.Error()}
		}
		format = f
	}
	if format == reporter.FormatXLSX && (exportOutput == "" || exportOutput == "-") {
		return &ValidationError{Message: "xlsx export requires --output"}
	}

	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	session, err := resolveSession(commandContext(cmd), repo, arg)
	if err != nil {
		return err
	}

	records, err := allResults(commandContext(cmd), repo, session.ID)
	if err != nil {
		logError("Failed to load results: %v", err)
		return err
	}

	results := toScored(records)
	summary := storedSummary(session, results)
	doc := reporter.NewDocument(session.ID, results, &summary)
	doc.GeneratedAt = session.CreatedAt.UTC()

	if err := reporter.WriteDocument(doc, exportOutput, format); err != nil {
		logError("Failed to write report: %v", err)
		return err
	}
	if exportOutput != "" && exportOutput != "-" {
		fmt.Fprintf(os.Stderr, "Exported %d result(s) from session %s to %s\n", len(results), session.ID, exportOutput)
	}
	return nil
}

// storedSummary rebuilds a summary from persisted results. Filter counters
// are not stored, so every stored result counts as evaluated.
func storedSummary(session *models.ScanSession, results []models.ScoredResult) aggregator.Summary {
	return aggregator.Summarize(results, aggregator.Counters{Evaluated: len(results)}, sessionThreshold(session))
}
