package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/policy"
	"github.com/ppiankov/wphunter/internal/scan"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/wporg"
)

var (
	doctorFormat  string
	doctorOffline bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment readiness and diagnose common problems",
	Long: `Doctor validates your WPHunter setup end-to-end:

  1. Config file, found and readable?
  2. Database, can sessions be read?
  3. Policy, present and valid?
  4. Proxy, well formed?
  5. Catalog API, reachable and answering?
  6. Download directory, writable?

Fix the issues it reports, then run 'wphunter scan' with confidence.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text",
		"output format: text or json")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false,
		"skip the catalog API check")
}

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

type doctorResult struct {
	Checks  []doctorCheck `json:"checks"`
	Summary string        `json:"summary"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	checks := []doctorCheck{
		checkConfig(),
		checkDatabase(ctx),
		checkPolicy(),
		checkProxy(),
	}
	if !doctorOffline {
		checks = append(checks, checkCatalog(ctx))
	}
	checks = append(checks, checkDownloadDir())

	result := summarizeChecks(checks)

	if doctorFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	return writeDoctorText(result)
}

func summarizeChecks(checks []doctorCheck) doctorResult {
	fails, warns := 0, 0
	for _, c := range checks {
		switch c.Status {
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}

	summary := "all checks passed"
	if fails > 0 {
		summary = fmt.Sprintf("%d issue(s) found", fails)
	} else if warns > 0 {
		summary = fmt.Sprintf("ok with %d warning(s)", warns)
	}
	return doctorResult{Checks: checks, Summary: summary}
}

func writeDoctorText(result doctorResult) error {
	icons := map[string]string{
		"ok":   "✓",
		"warn": "△",
		"fail": "✗",
	}

	for _, c := range result.Checks {
		icon := icons[c.Status]
		if c.Detail != "" {
			fmt.Printf("  %s %-14s %s\n", icon, c.Name, c.Detail)
		} else {
			fmt.Printf("  %s %s\n", icon, c.Name)
		}
	}

	fmt.Printf("\n%s\n", result.Summary)
	return nil
}

func checkConfig() doctorCheck {
	if cfg.Source == "" {
		return doctorCheck{
			Name:   "config",
			Status: "warn",
			Detail: "no config file found (using defaults). Run: wphunter config init -o wphunter.yaml",
		}
	}
	return doctorCheck{Name: "config", Status: "ok", Detail: cfg.Source}
}

func checkDatabase(ctx context.Context) doctorCheck {
	path, err := cfg.GetDBPath()
	if err != nil {
		return doctorCheck{Name: "database", Status: "fail", Detail: err.Error()}
	}
	_, statErr := os.Stat(path)

	repo, err := openRepository()
	if err != nil {
		return doctorCheck{Name: "database", Status: "fail", Detail: fmt.Sprintf("cannot open %s: %v", path, err)}
	}
	defer func() { _ = repo.Close() }()

	sessions, err := repo.ListSessions(ctx, 1)
	if err != nil {
		return doctorCheck{Name: "database", Status: "fail", Detail: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	if os.IsNotExist(statErr) {
		return doctorCheck{Name: "database", Status: "ok", Detail: fmt.Sprintf("%s (created)", path)}
	}
	if len(sessions) == 0 {
		return doctorCheck{Name: "database", Status: "ok", Detail: fmt.Sprintf("%s (no sessions yet)", path)}
	}
	last := sessions[0]
	return doctorCheck{
		Name:   "database",
		Status: "ok",
		Detail: fmt.Sprintf("%s (last session %s, %s)", path, last.CreatedAt.Format("2006-01-02 15:04"), last.Status),
	}
}

func checkPolicy() doctorCheck {
	path := cfg.PolicyFile
	if path == "" {
		path = policy.FindPolicyFile()
	}
	if path == "" {
		return doctorCheck{Name: "policy", Status: "ok", Detail: "none (default scoring). Run: wphunter policy init"}
	}

	pol, err := policy.LoadFromFile(path)
	if err != nil {
		return doctorCheck{Name: "policy", Status: "fail", Detail: err.Error()}
	}
	if pol == nil {
		return doctorCheck{Name: "policy", Status: "fail", Detail: fmt.Sprintf("%s not found", path)}
	}
	if _, err := pol.Scorer(); err != nil {
		return doctorCheck{Name: "policy", Status: "fail", Detail: fmt.Sprintf("%s: %v", path, err)}
	}
	return doctorCheck{Name: "policy", Status: "ok", Detail: path}
}

func checkProxy() doctorCheck {
	if cfg.Proxy == "" {
		return doctorCheck{Name: "proxy", Status: "ok", Detail: "not configured"}
	}
	if _, err := wporg.NewTransport(cfg.Proxy); err != nil {
		return doctorCheck{Name: "proxy", Status: "fail", Detail: err.Error()}
	}
	return doctorCheck{Name: "proxy", Status: "ok", Detail: cfg.Proxy}
}

func checkCatalog(ctx context.Context) doctorCheck {
	src, err := wporg.New(wporg.Options{
		BaseURL: cfg.APIURL,
		Timeout: 10 * time.Second,
		Proxy:   cfg.Proxy,
		Logger:  newLogger(),
	})
	if err != nil {
		return doctorCheck{Name: "catalog", Status: "fail", Detail: err.Error()}
	}

	start := time.Now()
	targets, _, err := src.FetchPage(ctx, 1, scan.Query{Kind: models.KindPlugin, Sort: scanconfig.SortUpdated, PerPage: 1})
	if err != nil {
		return doctorCheck{Name: "catalog", Status: "fail", Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	if len(targets) == 0 {
		return doctorCheck{Name: "catalog", Status: "warn", Detail: fmt.Sprintf("%s answered with no plugins", cfg.APIURL)}
	}
	return doctorCheck{
		Name:   "catalog",
		Status: "ok",
		Detail: fmt.Sprintf("%s (%s)", cfg.APIURL, time.Since(start).Round(time.Millisecond)),
	}
}

func checkDownloadDir() doctorCheck {
	dir, err := cfg.GetDownloadDir()
	if err != nil {
		return doctorCheck{Name: "downloads", Status: "fail", Detail: err.Error()}
	}
	if dir == "" {
		return doctorCheck{Name: "downloads", Status: "ok", Detail: "temporary directory per run"}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return doctorCheck{Name: "downloads", Status: "ok", Detail: fmt.Sprintf("%s (will be created on first download)", dir)}
	}
	if !info.IsDir() {
		return doctorCheck{Name: "downloads", Status: "fail", Detail: fmt.Sprintf("%s exists but is not a directory", dir)}
	}

	marker := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
		return doctorCheck{Name: "downloads", Status: "fail", Detail: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	_ = os.Remove(marker)

	return doctorCheck{Name: "downloads", Status: "ok", Detail: dir}
}
