package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/reporter"
)

var (
	diffFormat   string
	diffFailDegrading bool
)

var diffCmd = &cobra.Command{
	Use:   "diff [previous-session current-session]",
	Short: "Show what changed between two scan sessions",
	Long: `Compare two sessions by target slug: targets that appeared or disappeared,
score changes and newly raised security flags.

By default compares the two most recent sessions.

Exit codes:
  0  High-risk count did not grow (or --fail-degrading not set)
  1  High-risk count grew (with --fail-degrading)

Example:
  wphunter diff
  wphunter diff <previous-id> <current-id> --format json
  wphunter diff --fail-degrading`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return &ValidationError{Message: "diff takes no arguments or exactly two session ids"}
		}
		return nil
	},
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text",
		"output format: text or json")
	diffCmd.Flags().BoolVar(&diffFailDegrading, "fail-degrading", false,
		"exit 1 if the number of high-risk targets grew (for CI gating)")
}

func runDiff(cmd *cobra.Command, args []string) error {
	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	ctx := commandContext(cmd)
	var prevID, curID string
	if len(args) == 2 {
		prevID, curID = args[0], args[1]
	} else {
		sessions, err := repo.ListSessions(ctx, 2)
		if err != nil {
			logError("Failed to list sessions: %v", err)
			return err
		}
		if len(sessions) < 2 {
			return &ValidationError{Message: "need at least two stored sessions to diff"}
		}
		curID, prevID = sessions[0].ID, sessions[1].ID
	}

	prevSession, err := resolveSession(ctx, repo, prevID)
	if err != nil {
		return err
	}
	curSession, err := resolveSession(ctx, repo, curID)
	if err != nil {
		return err
	}

	prev, err := allResults(ctx, repo, prevSession.ID)
	if err != nil {
		return err
	}
	cur, err := allResults(ctx, repo, curSession.ID)
	if err != nil {
		return err
	}

	logVerbose("Comparing %s (%d results) with %s (%d results)", prevSession.ID, len(prev), curSession.ID, len(cur))
	d := aggregator.DiffResults(prevSession.ID, toScored(prev), curSession.ID, toScored(cur), sessionThreshold(curSession))

	switch diffFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	case "text":
		if err := reporter.NewTextReporter(os.Stdout).GenerateDiff(d); err != nil {
			return err
		}
	default:
		return &ValidationError{Message: fmt.Sprintf("unsupported format %q (use text or json)", diffFormat)}
	}

	if diffFailDegrading && d.HighRiskDelta > 0 {
		return &ThresholdExceededError{
			Violations: 1,
			Details:    []string{fmt.Sprintf("high-risk targets grew by %d", d.HighRiskDelta)},
		}
	}
	return nil
}
