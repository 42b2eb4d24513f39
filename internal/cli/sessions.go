package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/reporter"
	"github.com/ppiankov/wphunter/internal/storage"
)

// latestSession is accepted wherever a session id is expected
const latestSession = "latest"

var (
	sessionsLimit  int
	sessionsFormat string
)

// sessionsCmd lists stored scan sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored scan sessions",
	Long: `List the most recent scan sessions, newest first.

Example:
  wphunter sessions
  wphunter sessions --limit 5 --format json`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", storage.DefaultSessionLimit,
		"number of sessions to show")
	sessionsCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "table",
		"output format: table or json")
}

func runSessions(cmd *cobra.Command, args []string) error {
	if sessionsFormat != "table" && sessionsFormat != "json" {
		return &ValidationError{Message: fmt.Sprintf("unsupported format %q (use table or json)", sessionsFormat)}
	}

	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	sessions, err := repo.ListSessions(commandContext(cmd), sessionsLimit)
	if err != nil {
		logError("Failed to list sessions: %v", err)
		return err
	}

	if sessionsFormat == "json" {
		if sessions == nil {
			sessions = []models.ScanSession{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No stored sessions found.")
		fmt.Println("Run 'wphunter scan' to create your first session.")
		return nil
	}
	return reporter.RenderSessions(os.Stdout, sessions)
}

// resolveSession loads the session named by arg; "latest" picks the newest one
func resolveSession(ctx context.Context, repo storage.Repository, arg string) (*models.ScanSession, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || strings.EqualFold(arg, latestSession) {
		sessions, err := repo.ListSessions(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, &ValidationError{Message: "no stored sessions"}
		}
		return &sessions[0], nil
	}

	session, err := repo.GetSession(ctx, arg)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, &ValidationError{Message: fmt.Sprintf("session %s not found", arg)}
	}
	return session, err
}

// sessionThreshold returns the high-risk threshold a session was scanned with
func sessionThreshold(session *models.ScanSession) int {
	sc := baseScanConfig()
	if session != nil && session.ConfigJSON != "" {
		_ = json.Unmarshal([]byte(session.ConfigJSON), &sc)
	}
	return sc.HighRiskThreshold
}
