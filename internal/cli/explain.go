package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/reporter"
)

var explainFormat string

// explainCmd shows how a target's score was built
var explainCmd = &cobra.Command{
	Use:   "explain <session-id|latest> <slug>",
	Short: "Explain how a target's score was computed",
	Long: `Show every contribution that added to a target's score in a session:
the metadata signals, the security flags from static analysis and the
points each one carried.

Example:
  wphunter explain latest contact-form-x
  wphunter explain <session-id> contact-form-x --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVarP(&explainFormat, "format", "f", "text",
		"output format: text or json")
}

func runExplain(cmd *cobra.Command, args []string) error {
	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	session, err := resolveSession(commandContext(cmd), repo, args[0])
	if err != nil {
		return err
	}

	records, err := allResults(commandContext(cmd), repo, session.ID)
	if err != nil {
		logError("Failed to load results: %v", err)
		return err
	}

	slug := strings.ToLower(strings.TrimSpace(args[1]))
	for _, r := range records {
		if r.Slug != slug {
			continue
		}
		if explainFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		return reporter.NewTextReporter(os.Stdout).GenerateExplanation(r.ScoredResult)
	}

	return &ValidationError{Message: fmt.Sprintf("no result for %q in session %s", slug, session.ID)}
}
