package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/downloader"
	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/policy"
	"github.com/ppiankov/wphunter/internal/reporter"
	"github.com/ppiankov/wphunter/internal/scan"
	"github.com/ppiankov/wphunter/internal/scanconfig"
)

var (
	// Scan command flags
	scanParams      scanconfig.Config
	scanOutput      string
	scanFormat      string
	scanMetricsFile string
	scanQuiet       bool
	scanNoPolicy    bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the plugin or theme catalog and score each target",
	Long: `Scan pages through the WordPress.org catalog, applies the metadata filters,
optionally downloads and statically analyzes each candidate, and stores a
scored result for every target that passes.

Modes adjust defaults you did not set yourself:
  --abandoned            only targets not updated for two years, 100 pages
  --aggressive           200 pages, high-risk scores only, smart filter off
  --ajax-scan, --dangerous-functions
                         keep targets with these code findings (enables deep analysis)

Results are printed as they are found. With --output the full report is also
written as json, csv, html or xlsx (picked from the extension or --format).
When a policy file defines rules, a violating scan exits with code 1.

Example:
  wphunter scan --pages 3 --smart
  wphunter scan --themes --sort new --max-days 30
  wphunter scan --deep-analysis --min 10000 --output report.html
  wphunter scan --abandoned --auto-download-risky 5`,
	RunE: runScan,
}

func init() {
	d := scanconfig.Default()
	f := scanCmd.Flags()

	f.IntVar(&scanParams.Pages, scanconfig.FieldPages, d.Pages, "catalog pages to fetch")
	f.IntVar(&scanParams.Limit, scanconfig.FieldLimit, d.Limit, "stop after this many results (0 = no limit)")
	f.IntVar(&scanParams.MinInstalls, scanconfig.FieldMinInstalls, d.MinInstalls, "minimum active installs")
	f.IntVar(&scanParams.MaxInstalls, scanconfig.FieldMaxInstalls, d.MaxInstalls, "maximum active installs (0 = no maximum)")
	f.StringVar(&scanParams.Sort, scanconfig.FieldSort, d.Sort, "catalog order: updated, new or popular")
	f.BoolVar(&scanParams.Smart, scanconfig.FieldSmart, d.Smart, "only targets in risky categories")
	f.BoolVar(&scanParams.Abandoned, scanconfig.FieldAbandoned, d.Abandoned, "only targets not updated for two years")
	f.BoolVar(&scanParams.UserFacing, scanconfig.FieldUserFacing, d.UserFacing, "only targets that render to site visitors")
	f.BoolVar(&scanParams.Themes, scanconfig.FieldThemes, d.Themes, "scan themes instead of plugins")
	f.IntVar(&scanParams.MinDays, scanconfig.FieldMinDays, d.MinDays, "minimum days since last update")
	f.IntVar(&scanParams.MaxDays, scanconfig.FieldMaxDays, d.MaxDays, "maximum days since last update (0 = no maximum)")
	f.BoolVar(&scanParams.DeepAnalysis, scanconfig.FieldDeepAnalysis, d.DeepAnalysis, "download and statically analyze source code")
	f.BoolVar(&scanParams.AjaxScan, scanconfig.FieldAjaxScan, d.AjaxScan, "keep only targets exposing AJAX endpoints")
	f.BoolVar(&scanParams.DangerousFunctions, scanconfig.FieldDangerousFunctions, d.DangerousFunctions, "keep only targets calling dangerous functions")
	f.BoolVar(&scanParams.Aggressive, scanconfig.FieldAggressive, d.Aggressive, "wide scan reporting only high-risk targets")
	f.IntVar(&scanParams.MinScore, scanconfig.FieldMinScore, d.MinScore, "minimum score to report")
	f.IntVar(&scanParams.Workers, scanconfig.FieldWorkers, d.Workers, "concurrent deep analyses (default from config)")
	f.IntVar(&scanParams.Download, "download", 0, "after the scan, download the N highest-scoring targets")
	f.IntVar(&scanParams.AutoDownloadRisky, "auto-download-risky", 0, "after the scan, download up to N high-risk targets")

	f.StringVarP(&scanOutput, "output", "o", "", "write the report to this file (- for stdout)")
	f.StringVarP(&scanFormat, "format", "f", "", "report format: json, csv, html or xlsx (default from extension, else json)")
	f.StringVar(&scanMetricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	f.BoolVarP(&scanQuiet, "quiet", "q", false, "do not print results as they are found")
	f.BoolVar(&scanNoPolicy, "no-policy", false, "ignore the policy file")
}

// explicitScanFields returns the scan parameters the user set on the command line
func explicitScanFields(flags *pflag.FlagSet) scanconfig.Explicit {
	explicit := scanconfig.Explicit{}
	flags.Visit(func(fl *pflag.Flag) {
		explicit[fl.Name] = true
	})
	return explicit
}

// buildScanConfig merges config defaults, flags and mode overlays
func buildScanConfig(cmd *cobra.Command) (scanconfig.Config, []string, error) {
	explicit := explicitScanFields(cmd.Flags())
	params := scanParams

	base := baseScanConfig()
	if !explicit[scanconfig.FieldWorkers] {
		params.Workers = base.Workers
	}
	params.HighRiskThreshold = base.HighRiskThreshold
	params.DownloadTimeout = base.DownloadTimeout

	format := reporter.FormatFromPath(scanOutput, reporter.FormatJSON)
	if scanFormat != "" {
		parsed, err := reporter.ParseFormat(scanFormat)
		if err != nil {
			return scanconfig.Config{}, nil, &ValidationError{Message: err.Error()}
		}
		format = parsed
	}
	if format == reporter.FormatText {
		return scanconfig.Config{}, nil, &ValidationError{Message: "text format is only available for export"}
	}
	params.Format = string(format)
	params.Output = scanOutput

	sc, notices, err := scanconfig.Build(params, explicit, scanconfig.Overlays()...)
	if err != nil {
		return scanconfig.Config{}, notices, &ValidationError{Message: err.Error()}
	}
	return sc, notices, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	sc, notices, err := buildScanConfig(cmd)
	if err != nil {
		return err
	}
	for _, n := range notices {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("note:"), n)
	}

	logger := newLogger()

	var pol *policy.Policy
	if !scanNoPolicy {
		if pol, err = loadPolicy(); err != nil {
			return err
		}
	}

	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	rec := metrics.New()
	p, err := newPipeline(repo, pol, rec, logger)
	if err != nil {
		return err
	}
	keepDownloads := sc.Download > 0 || sc.AutoDownloadRisky > 0
	if !keepDownloads {
		defer func() { _ = p.downloader.Cleanup() }()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The report owns stdout when it is written there.
	var console io.Writer = os.Stdout
	if scanOutput == "-" {
		console = os.Stderr
	}
	var obs scan.Observer = scan.MultiObserver{}
	if !scanQuiet {
		obs = reporter.NewConsoleObserver(console, sc.HighRiskThreshold)
	}

	logVerbose("Scanning %d page(s) of %s sorted by %s", sc.Pages, targetKind(sc), sc.Sort)
	report, runErr := p.run(ctx, sc, obs)
	if report == nil {
		logError("Scan failed: %v", runErr)
		return runErr
	}

	if err := finishScan(ctx, p, sc, report); err != nil {
		if runErr != nil {
			logError("Scan failed: %v", runErr)
			return runErr
		}
		return err
	}

	if scanMetricsFile != "" {
		if err := rec.WriteTextfile(scanMetricsFile); err != nil {
			logError("%v", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logError("Scan interrupted; partial results kept in session %s", report.SessionID)
		} else {
			logError("Scan failed: %v", runErr)
		}
		return runErr
	}

	return gatePolicy(pol, report.Results, report.Summary)
}

// finishScan writes the report and performs the requested downloads
func finishScan(ctx context.Context, p *pipeline, sc scanconfig.Config, report *scan.Report) error {
	if sc.Output != "" {
		summary := report.Summary
		doc := reporter.NewDocument(report.SessionID, report.Results, &summary)
		if err := reporter.WriteDocument(doc, sc.Output, reporter.Format(sc.Format)); err != nil {
			logError("Failed to write report: %v", err)
			return err
		}
		if sc.Output != "-" {
			fmt.Fprintf(os.Stderr, "Report written to %s\n", sc.Output)
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	if sc.Download > 0 {
		printDownloads("Top targets", p.downloader.DownloadTop(ctx, report.Results, sc.Download, sc.Workers))
	}
	if sc.AutoDownloadRisky > 0 {
		risky := highRisk(report.Results, sc.HighRiskThreshold)
		if len(risky) == 0 {
			fmt.Fprintln(os.Stderr, "No high-risk targets to download.")
		} else {
			printDownloads("High-risk targets", p.downloader.DownloadTop(ctx, risky, sc.AutoDownloadRisky, sc.Workers))
		}
	}
	return nil
}

func highRisk(results []models.ScoredResult, threshold int) []models.ScoredResult {
	var out []models.ScoredResult
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

func printDownloads(title string, results []downloader.Result) {
	ok := len(downloader.Paths(results))
	fmt.Fprintf(os.Stderr, "\n%s: %d/%d downloaded\n", title, ok, len(results))
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(os.Stderr, "  %s %-30s %s\n", color.GreenString("✓"), r.Slug, r.Path)
		} else {
			fmt.Fprintf(os.Stderr, "  %s %-30s %s\n", color.RedString("✗"), r.Slug, r.Error)
		}
	}
}

// gatePolicy fails the command when the finished scan violates policy rules
func gatePolicy(pol *policy.Policy, results []models.ScoredResult, summary aggregator.Summary) error {
	if pol == nil {
		return nil
	}
	res := pol.Evaluate(results, summary)
	if res.Pass {
		logVerbose("Policy passed")
		return nil
	}

	details := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", color.RedString("policy:"), v.Rule, v.Message)
		details = append(details, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	return &ThresholdExceededError{Violations: len(res.Violations), Details: details}
}

func targetKind(sc scanconfig.Config) string {
	if sc.Themes {
		return "themes"
	}
	return "plugins"
}
