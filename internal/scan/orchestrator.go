package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/scorer"
	"github.com/ppiankov/wphunter/internal/storage"
)

// ErrNoTargets is returned when the source yields nothing across the whole run
var ErrNoTargets = errors.New("no targets found")

// DefaultPerPage is the page size requested from the source
const DefaultPerPage = 100

// Options wires the orchestrator's collaborators
type Options struct {
	Source     Source
	Downloader Downloader
	Analyzer   Analyzer
	Scorer     *scorer.Scorer
	Repository storage.Repository
	Observer   Observer
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	// Now supplies the reference time captured once per run
	Now     func() time.Time
	PerPage int
}

// Orchestrator drives fetch, filter, analyze, score, persist and notify
type Orchestrator struct {
	opts Options
}

// New creates an orchestrator. Source, Scorer and Repository are required.
func New(opts Options) *Orchestrator {
	if opts.Scorer == nil {
		opts.Scorer = scorer.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	return &Orchestrator{opts: opts}
}

// Report is the outcome of one run
type Report struct {
	SessionID string                `json:"session_id"`
	State     State                 `json:"state"`
	Results   []models.ScoredResult `json:"results"`
	Summary   aggregator.Summary    `json:"summary"`
	Error     string                `json:"error,omitempty"`
}

// accumulator holds everything a run collects; it is owned by the run goroutine
type accumulator struct {
	results         []models.ScoredResult
	fetched         int
	evaluated       int
	skipped         int
	downloadsFailed int
}

func (a *accumulator) highRisk(threshold int) int {
	n := 0
	for _, r := range a.results {
		if r.Score >= threshold {
			n++
		}
	}
	return n
}

type run struct {
	o         *Orchestrator
	cfg       scanconfig.Config
	sessionID string
	asOf      time.Time
	state     State
	log       *slog.Logger
	acc       accumulator
}

// Run executes one scan. The returned report is non-nil whenever a session was
// created, including failed and cancelled runs; partial results stay persisted.
func (o *Orchestrator) Run(ctx context.Context, cfg scanconfig.Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := o.opts.Repository.CreateSession(ctx, cfg.JSON())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r := &run{
		o:         o,
		cfg:       cfg,
		sessionID: id,
		asOf:      o.opts.Now(),
		state:     StateConfigured,
		log:       o.opts.Logger.With("session", id),
	}

	ro, _ := o.opts.Observer.(RunObserver)
	if ro != nil {
		ro.OnRunStart(id)
	}

	r.log.Info("scan started", "pages", cfg.Pages, "sort", cfg.Sort, "deep_analysis", cfg.DeepAnalysis, "workers", cfg.Workers)

	err = r.execute(ctx)
	if err == nil {
		err = r.complete(ctx)
	}

	report := &Report{
		SessionID: id,
		Results:   r.acc.results,
		Summary: aggregator.Summarize(r.acc.results, aggregator.Counters{
			Evaluated:       r.acc.evaluated,
			Skipped:         r.acc.skipped,
			DownloadsFailed: r.acc.downloadsFailed,
		}, cfg.HighRiskThreshold),
	}

	if err != nil {
		r.fail(ctx, err)
		report.State = StateFailed
		report.Error = r.failureMessage(err)
	} else {
		r.transition(StateDone)
		report.State = StateDone
		o.opts.Metrics.RunFinished(string(models.StatusCompleted))
		r.log.Info("scan completed", "evaluated", r.acc.evaluated, "emitted", len(r.acc.results), "skipped", r.acc.skipped)
	}

	if ro != nil {
		ro.OnRunEnd(report)
	}
	return report, err
}

func (r *run) transition(to State) {
	if r.state == to {
		return
	}
	r.log.Debug("state transition", "from", r.state, "to", to)
	r.state = to
}

func (r *run) execute(ctx context.Context) error {
	repo := r.o.opts.Repository
	if err := repo.UpdateSessionStatus(ctx, r.sessionID, models.StatusRunning, storage.SessionUpdate{}); err != nil {
		return fmt.Errorf("failed to mark session running: %w", err)
	}

	q := Query{Kind: models.KindPlugin, Sort: r.cfg.Sort, PerPage: r.o.opts.PerPage}
	if r.cfg.Themes {
		q.Kind = models.KindTheme
	}

	var fetchErr error
	for page := 1; page <= r.cfg.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.transition(StateFetching)
		targets, hasMore, err := r.o.opts.Source.FetchPage(ctx, page, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// an unreachable source ends pagination
			r.log.Warn("page fetch failed, stopping", "page", page, "error", err)
			fetchErr = err
			break
		}
		if len(targets) == 0 {
			r.log.Debug("empty page, stopping", "page", page)
			break
		}

		r.acc.fetched += len(targets)
		r.o.opts.Metrics.PageFetched(len(targets))
		r.log.Debug("page fetched", "page", page, "targets", len(targets), "has_more", hasMore)

		stop, err := r.processPage(ctx, targets)
		if err != nil {
			return err
		}

		total, high := len(r.acc.results), r.acc.highRisk(r.cfg.HighRiskThreshold)
		if err := repo.UpdateSessionStatus(ctx, r.sessionID, models.StatusRunning, storage.SessionUpdate{
			TotalFound:    &total,
			HighRiskCount: &high,
		}); err != nil {
			return fmt.Errorf("failed to update session progress: %w", err)
		}

		if stop || !hasMore {
			break
		}
	}

	if r.acc.fetched == 0 {
		if fetchErr != nil {
			return fmt.Errorf("%w: %v", ErrNoTargets, fetchErr)
		}
		return ErrNoTargets
	}
	return nil
}

// processPage filters, analyzes and emits one page of targets in order.
// It reports whether the result limit was reached.
func (r *run) processPage(ctx context.Context, targets []models.TargetMetadata) (bool, error) {
	r.transition(StateFiltering)

	cls := r.o.opts.Scorer.Classifier()
	candidates := make([]models.TargetMetadata, 0, len(targets))
	for _, t := range targets {
		r.acc.evaluated++
		if f := metadataFilter(r.cfg, cls, t, r.asOf); f != "" {
			r.skip(t, f)
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	if r.cfg.Workers <= 1 || !r.deepEnabled() {
		for _, t := range candidates {
			if err := ctx.Err(); err != nil {
				return true, err
			}
			a, failed := r.analyze(ctx, t)
			stop, err := r.finish(ctx, t, a, failed)
			if stop || err != nil {
				return stop, err
			}
		}
		return false, nil
	}

	return r.processParallel(ctx, candidates)
}

type outcome struct {
	analysis *models.CodeAnalysisResult
	failed   bool
}

// processParallel analyzes up to Workers targets at once while scoring,
// persistence and observer delivery stay on this goroutine in discovery order
func (r *run) processParallel(ctx context.Context, candidates []models.TargetMetadata) (bool, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan outcome, len(candidates))
	for i := range slots {
		slots[i] = make(chan outcome, 1)
	}

	g, gctx := errgroup.WithContext(pctx)
	g.SetLimit(r.cfg.Workers)

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, t := range candidates {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				a, failed := r.analyze(gctx, t)
				slots[i] <- outcome{analysis: a, failed: failed}
				return nil
			})
		}
		_ = g.Wait()
	}()

	drain := func() {
		cancel()
		<-launched
	}

	for i, t := range candidates {
		var out outcome
		select {
		case out = <-slots[i]:
		case <-ctx.Done():
			drain()
			return true, ctx.Err()
		}

		stop, err := r.finish(ctx, t, out.analysis, out.failed)
		if stop || err != nil {
			drain()
			return stop, err
		}
	}

	drain()
	return false, nil
}

func (r *run) deepEnabled() bool {
	return r.cfg.DeepAnalysis && r.o.opts.Downloader != nil && r.o.opts.Analyzer != nil
}

// analyze downloads and inspects one target. Any failure degrades to a nil
// analysis; it never affects sibling targets.
func (r *run) analyze(ctx context.Context, t models.TargetMetadata) (*models.CodeAnalysisResult, bool) {
	if !r.deepEnabled() {
		return nil, false
	}

	start := time.Now()
	tctx := ctx
	if r.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.cfg.DownloadTimeout)
		defer cancel()
	}

	dir, err := r.o.opts.Downloader.FetchSource(tctx, t)
	if err != nil {
		r.log.Debug("download failed, scoring metadata only", "slug", t.Slug, "error", err)
		r.o.opts.Metrics.DownloadFailed()
		return nil, true
	}

	a, err := r.o.opts.Analyzer.AnalyzeDir(tctx, dir)
	if err != nil {
		r.log.Debug("analysis failed, scoring metadata only", "slug", t.Slug, "error", err)
		r.o.opts.Metrics.DownloadFailed()
		return nil, true
	}

	r.o.opts.Metrics.AnalysisDone(time.Since(start))
	return a, false
}

// finish scores, persists and delivers one target. It reports whether the
// result limit was reached.
func (r *run) finish(ctx context.Context, t models.TargetMetadata, a *models.CodeAnalysisResult, failed bool) (bool, error) {
	if failed {
		r.acc.downloadsFailed++
	}
	if r.deepEnabled() {
		r.transition(StateAnalyzing)
	}

	if f := analysisFilter(r.cfg, a); f != "" {
		r.skip(t, f)
		return false, nil
	}

	r.transition(StateScoring)
	res := r.o.opts.Scorer.Score(scorer.Input{Meta: t, Analysis: a, AsOf: r.asOf})
	if res.Score < r.cfg.MinScore {
		r.skip(t, FilterMinScore)
		return false, nil
	}

	if _, err := r.o.opts.Repository.SaveResult(ctx, r.sessionID, res); err != nil {
		return true, fmt.Errorf("failed to save result for %s: %w", t.Slug, err)
	}
	r.acc.results = append(r.acc.results, res)
	r.o.opts.Metrics.ResultEmitted(res.Score)

	if r.o.opts.Observer != nil {
		r.o.opts.Observer.OnResult(res)
	}
	r.transition(StateEmitted)

	if r.cfg.Limit > 0 && len(r.acc.results) >= r.cfg.Limit {
		r.log.Debug("result limit reached", "limit", r.cfg.Limit)
		return true, nil
	}
	return false, nil
}

func (r *run) skip(t models.TargetMetadata, filter string) {
	r.acc.skipped++
	r.o.opts.Metrics.TargetSkipped(filter)
	r.log.Debug("target skipped", "slug", t.Slug, "filter", filter)
}

func (r *run) complete(ctx context.Context) error {
	total, high := len(r.acc.results), r.acc.highRisk(r.cfg.HighRiskThreshold)
	err := r.o.opts.Repository.UpdateSessionStatus(ctx, r.sessionID, models.StatusCompleted, storage.SessionUpdate{
		TotalFound:    &total,
		HighRiskCount: &high,
	})
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return nil
}

func (r *run) failureMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "scan cancelled: " + err.Error()
	}
	return err.Error()
}

// fail marks the session FAILED. It uses a context detached from ctx so a
// cancelled run still leaves a terminal status behind.
func (r *run) fail(ctx context.Context, err error) {
	r.transition(StateFailed)
	msg := r.failureMessage(err)
	r.log.Error("scan failed", "error", msg)
	r.o.opts.Metrics.RunFinished(string(models.StatusFailed))

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	total, high := len(r.acc.results), r.acc.highRisk(r.cfg.HighRiskThreshold)
	if uerr := r.o.opts.Repository.UpdateSessionStatus(fctx, r.sessionID, models.StatusFailed, storage.SessionUpdate{
		TotalFound:    &total,
		HighRiskCount: &high,
		ErrorMessage:  &msg,
	}); uerr != nil {
		r.log.Error("failed to mark session failed", "error", uerr)
	}
}
