package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/reporter"
	"github.com/ppiankov/wphunter/internal/storage"
	"github.com/ppiankov/wphunter/internal/tui"
)

var (
	resultsSort   string
	resultsOrder  string
	resultsLimit  int
	resultsFormat string
	resultsTUI    bool
)

// resultsCmd shows the results of one session
var resultsCmd = &cobra.Command{
	Use:   "results [session-id|latest]",
	Short: "Show the results of a scan session",
	Long: `Show the stored results of a session ordered by a column.

Sort columns: score, installations, days_since_update, name, slug.
Unknown columns fall back to score.

With --tui an interactive browser opens when stdout is a terminal.

Example:
  wphunter results latest
  wphunter results <session-id> --sort installations --order asc --limit 20
  wphunter results <session-id> --tui`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVarP(&resultsSort, "sort", "s", string(models.SortByScore),
		"sort column")
	resultsCmd.Flags().StringVar(&resultsOrder, "order", string(models.OrderDesc),
		"sort order: asc or desc")
	resultsCmd.Flags().IntVarP(&resultsLimit, "limit", "n", storage.DefaultResultLimit,
		"maximum results to show")
	resultsCmd.Flags().StringVarP(&resultsFormat, "format", "f", "table",
		"output format: table or json")
	resultsCmd.Flags().BoolVar(&resultsTUI, "tui", false,
		"open the interactive browser")
}

func runResults(cmd *cobra.Command, args []string) error {
	if resultsFormat != "table" && resultsFormat != "json" {
		return &ValidationError{Message: fmt.Sprintf("unsupported format %q (use table or json)", resultsFormat)}
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

	sortBy := models.ParseSortKey(resultsSort)
	if string(sortBy) != resultsSort {
		logVerbose("Unknown sort column %q, using %s", resultsSort, sortBy)
	}

	records, err := repo.GetSessionResults(commandContext(cmd), session.ID, storage.ResultQuery{
		SortBy: sortBy,
		Order:  models.ParseSortOrder(resultsOrder),
		Limit:  resultsLimit,
	})
	if err != nil {
		logError("Failed to load results: %v", err)
		return err
	}

	if resultsTUI {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return tui.Run(session, records, sessionThreshold(session))
		}
		logVerbose("stdout is not a terminal; printing a table instead")
	}

	if resultsFormat == "json" {
		if records == nil {
			records = []models.ResultRecord{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	fmt.Printf("Session %s (%s), %d result(s)\n\n", session.ID, session.Status, len(records))
	if len(records) == 0 {
		return nil
	}
	return reporter.RenderResults(os.Stdout, records)
}
