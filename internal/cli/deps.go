package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/analyzer"
	"github.com/ppiankov/wphunter/internal/downloader"
	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/policy"
	"github.com/ppiankov/wphunter/internal/scan"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/scorer"
	"github.com/ppiankov/wphunter/internal/storage"
	"github.com/ppiankov/wphunter/internal/wporg"
)

// openRepository opens the configured result database
func openRepository() (*storage.SQLRepository, error) {
	path, err := cfg.GetDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	logDebug("Opening database: %s", path)
	repo, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// loadPolicy reads the policy file from config, or the nearest one found
// upward from the working directory. No file yields a nil policy.
func loadPolicy() (*policy.Policy, error) {
	path := cfg.PolicyFile
	if path == "" {
		path = policy.FindPolicyFile()
	}
	if path == "" {
		return nil, nil
	}

	pol, err := policy.LoadFromFile(path)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid policy %s: %v", path, err)}
	}
	if pol != nil {
		logVerbose("Using policy: %s", path)
	}
	return pol, nil
}

// newScorer builds the scorer, applying policy overrides when present
func newScorer(pol *policy.Policy) (*scorer.Scorer, error) {
	if pol == nil {
		return scorer.Default(), nil
	}
	s, err := pol.Scorer()
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid policy weights: %v", err)}
	}
	return s, nil
}

// newSource builds the catalog client
func newSource(pol *policy.Policy, logger *slog.Logger) (*wporg.Client, error) {
	trusted := wporg.DefaultTrustedAuthors
	if pol != nil {
		trusted = pol.TrustedAuthors(trusted)
	}
	client, err := wporg.New(wporg.Options{
		BaseURL:        cfg.APIURL,
		Timeout:        cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		Proxy:          cfg.Proxy,
		TrustedAuthors: trusted,
		Logger:         logger,
	})
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid catalog client settings: %v", err)}
	}
	return client, nil
}

// newDownloader builds the archive downloader, sharing the proxy setting
func newDownloader(logger *slog.Logger) (*downloader.Downloader, error) {
	dir, err := cfg.GetDownloadDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory: %w", err)
	}

	transport, err := wporg.NewTransport(cfg.Proxy)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid proxy: %v", err)}
	}

	return downloader.New(downloader.Options{
		Dir:        dir,
		Timeout:    cfg.DownloadTimeout,
		HTTPClient: &http.Client{Transport: transport},
		Logger:     logger,
	}), nil
}

// pipeline holds the collaborators shared by every run of one command
type pipeline struct {
	source     scan.Source
	downloader *downloader.Downloader
	analyzer   *analyzer.Analyzer
	scorer     *scorer.Scorer
	repo       storage.Repository
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// newPipeline wires the scan collaborators from config and policy
func newPipeline(repo storage.Repository, pol *policy.Policy, rec *metrics.Recorder, logger *slog.Logger) (*pipeline, error) {
	sc, err := newScorer(pol)
	if err != nil {
		return nil, err
	}
	src, err := newSource(pol, logger)
	if err != nil {
		return nil, err
	}
	dl, err := newDownloader(logger)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		source:     src,
		downloader: dl,
		analyzer:   analyzer.New(analyzer.Config{Logger: logger}),
		scorer:     sc,
		repo:       repo,
		metrics:    rec,
		logger:     logger,
	}, nil
}

// run executes one scan delivering results to obs
func (p *pipeline) run(ctx context.Context, sc scanconfig.Config, obs scan.Observer) (*scan.Report, error) {
	o := scan.New(scan.Options{
		Source:     p.source,
		Downloader: p.downloader,
		Analyzer:   p.analyzer,
		Scorer:     p.scorer,
		Repository: p.repo,
		Observer:   obs,
		Metrics:    p.metrics,
		Logger:     p.logger,
	})
	return o.Run(ctx, sc)
}

// baseScanConfig returns scan defaults overridden by the application config
func baseScanConfig() scanconfig.Config {
	sc := scanconfig.Default()
	if cfg.Workers > 0 {
		sc.Workers = cfg.Workers
	}
	if cfg.HighRiskThreshold > 0 {
		sc.HighRiskThreshold = cfg.HighRiskThreshold
	}
	if cfg.DownloadTimeout > 0 {
		sc.DownloadTimeout = cfg.DownloadTimeout
	}
	return sc
}

// commandContext returns the command's context, or a background context
// when the command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd == nil || cmd.Context() == nil {
		return context.Background()
	}
	return cmd.Context()
}

// toScored strips persistence fields from records
func toScored(records []models.ResultRecord) []models.ScoredResult {
	out := make([]models.ScoredResult, 0, len(records))
	for _, r := range records {
		out = append(out, r.ScoredResult)
	}
	return out
}

// allResults loads every result of a session, highest score first
func allResults(ctx context.Context, repo storage.Repository, sessionID string) ([]models.ResultRecord, error) {
	return repo.GetSessionResults(ctx, sessionID, storage.ResultQuery{
		SortBy: models.SortByScore,
		Order:  models.OrderDesc,
		Limit:  1 << 30,
	})
}
