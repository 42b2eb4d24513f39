package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/scorer"
	"github.com/ppiankov/wphunter/internal/storage"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func target(slug string, installs, ageDays int, tags ...string) models.TargetMetadata {
	return models.TargetMetadata{
		Slug:           slug,
		Name:           slug,
		Kind:           models.KindPlugin,
		ActiveInstalls: installs,
		LastUpdated:    now.AddDate(0, 0, -ageDays),
		AuthorTrusted:  true,
		Tags:           tags,
	}
}

type fakeSource struct {
	pages [][]models.TargetMetadata
	errAt map[int]error
	calls atomic.Int32
}

func (s *fakeSource) FetchPage(_ context.Context, page int, _ Query) ([]models.TargetMetadata, bool, error) {
	s.calls.Add(1)
	if err := s.errAt[page]; err != nil {
		return nil, false, err
	}
	if page > len(s.pages) {
		return nil, false, nil
	}
	return s.pages[page-1], page < len(s.pages), nil
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	delay map[string]time.Duration
}

func newDownloader() *fakeDownloader {
	return &fakeDownloader{calls: map[string]int{}, fail: map[string]bool{}, delay: map[string]time.Duration{}}
}

func (d *fakeDownloader) FetchSource(ctx context.Context, t models.TargetMetadata) (string, error) {
	d.mu.Lock()
	d.calls[t.Slug]++
	delay, fail := d.delay[t.Slug], d.fail[t.Slug]
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("download refused")
	}
	return "/src/" + t.Slug, nil
}

func (d *fakeDownloader) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

type fakeAnalyzer struct {
	findings map[string][]string // slug -> dangerous functions
}

func (a *fakeAnalyzer) AnalyzeDir(_ context.Context, dir string) (*models.CodeAnalysisResult, error) {
	r := models.NewCodeAnalysisResult()
	for _, fn := range a.findings[strings.TrimPrefix(dir, "/src/")] {
		r.Add(models.CategoryDangerousFunctions, fn)
	}
	return r, nil
}

type recordingObserver struct {
	mu         sync.Mutex
	active     atomic.Int32
	overlapped atomic.Bool
	slugs      []string
	onResult   func(models.ScoredResult)
}

func (o *recordingObserver) OnResult(r models.ScoredResult) {
	if o.active.Add(1) > 1 {
		o.overlapped.Store(true)
	}
	defer o.active.Add(-1)

	o.mu.Lock()
	o.slugs = append(o.slugs, r.Slug)
	o.mu.Unlock()
	if o.onResult != nil {
		o.onResult(r)
	}
}

func openRepo(t *testing.T) *storage.SQLRepository {
	t.Helper()
	repo, err := storage.Open(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func baseConfig() scanconfig.Config {
	cfg := scanconfig.Default()
	cfg.MinInstalls = 0
	cfg.Pages = 10
	return cfg
}

func newOrchestrator(src Source, dl Downloader, an Analyzer, repo storage.Repository, obs Observer) *Orchestrator {
	return New(Options{
		Source:     src,
		Downloader: dl,
		Analyzer:   an,
		Scorer:     scorer.Default(),
		Repository: repo,
		Observer:   obs,
		Metrics:    metrics.New(),
		Now:        func() time.Time { return now },
	})
}

func TestRunSequentialOrderAndPersistence(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{
		{target("a", 5000, 10), target("b", 5000, 20)},
		{target("c", 5000, 30)},
	}}
	repo := openRepo(t)
	obs := &recordingObserver{}

	report, err := newOrchestrator(src, nil, nil, repo, obs).Run(context.Background(), baseConfig())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"a", "b", "c"}, obs.slugs)
	assert.Equal(t, int32(2), src.calls.Load(), "paging stops when has_more is false")

	s, err := repo.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, 3, s.TotalFound)

	rows, err := repo.GetSessionResults(context.Background(), report.SessionID, storage.ResultQuery{SortBy: models.SortBySlug, Order: models.OrderAsc})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, report.Summary.Emitted)
	assert.Equal(t, 3, report.Summary.Evaluated)
}

func TestRunPageLimit(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("a", 1, 1)}, {target("b", 1, 1)}, {target("c", 1, 1)}}}
	cfg := baseConfig()
	cfg.Pages = 2

	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCheapFiltersRunBeforeDownload(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{
		target("tiny", 10, 10),
		target("fresh", 5000, 10),
		target("mid", 5000, 100),
		target("huge", 9_000_000, 100),
	}}}
	dl := newDownloader()
	cfg := baseConfig()
	cfg.DeepAnalysis = true
	cfg.MinInstalls = 1000
	cfg.MaxInstalls = 1_000_000
	cfg.MinDays = 30

	report, err := newOrchestrator(src, dl, &fakeAnalyzer{}, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, dl.total(), "only targets passing metadata filters are downloaded")
	assert.Equal(t, 1, dl.calls["mid"])
	assert.Equal(t, 3, report.Summary.Skipped)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "mid", report.Results[0].Slug)
}

func TestSmartAndUserFacingFilters(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{
		target("wp-file-manager", 5000, 10, "contact-form"),
		target("hello", 5000, 10, "contact-form"),
		target("backup-pro", 5000, 10),
	}}}
	cfg := baseConfig()
	cfg.Smart = true
	cfg.UserFacing = true

	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "wp-file-manager", report.Results[0].Slug)
}

func TestAbandonedFilter(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("recent", 5000, 100), target("old", 5000, 800)}}}
	cfg := baseConfig()
	cfg.Abandoned = true

	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "old", report.Results[0].Slug)
}

func TestDownloadFailureDegradesToMetadataOnly(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("ok", 5000, 10), target("broken", 5000, 10)}}}
	dl := newDownloader()
	dl.fail["broken"] = true
	an := &fakeAnalyzer{findings: map[string][]string{"ok": {"eval"}}}
	cfg := baseConfig()
	cfg.DeepAnalysis = true

	report, err := newOrchestrator(src, dl, an, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.NotNil(t, report.Results[0].CodeAnalysis)
	assert.Contains(t, report.Results[0].SecurityFlags, "DANGEROUS_FN:eval")
	assert.Nil(t, report.Results[1].CodeAnalysis)
	assert.Empty(t, report.Results[1].SecurityFlags)
	assert.Equal(t, 1, report.Summary.DownloadsFailed)
}

func TestDangerousFocusFilter(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("clean", 5000, 10), target("evil", 5000, 10), target("gone", 5000, 10)}}}
	dl := newDownloader()
	dl.fail["gone"] = true
	an := &fakeAnalyzer{findings: map[string][]string{"evil": {"exec"}}}
	cfg := baseConfig()
	cfg.DeepAnalysis = true
	cfg.DangerousFunctions = true

	report, err := newOrchestrator(src, dl, an, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "evil", report.Results[0].Slug)
}

func TestParallelAnalysisKeepsDiscoveryOrder(t *testing.T) {
	var page []models.TargetMetadata
	dl := newDownloader()
	for i := 0; i < 12; i++ {
		slug := fmt.Sprintf("p%02d", i)
		page = append(page, target(slug, 5000, 10))
		// earlier targets finish last
		dl.delay[slug] = time.Duration(12-i) * 5 * time.Millisecond
	}
	dl.fail["p03"] = true

	obs := &recordingObserver{}
	cfg := baseConfig()
	cfg.DeepAnalysis = true
	cfg.Workers = 4

	report, err := newOrchestrator(&fakeSource{pages: [][]models.TargetMetadata{page}}, dl, &fakeAnalyzer{}, openRepo(t), obs).Run(context.Background(), cfg)
	require.NoError(t, err)

	want := make([]string, len(page))
	for i, p := range page {
		want[i] = p.Slug
	}
	assert.Equal(t, want, obs.slugs)
	assert.False(t, obs.overlapped.Load(), "observer must never run concurrently")
	assert.Nil(t, report.Results[3].CodeAnalysis)
	assert.Equal(t, 12, dl.total())
}

func TestResultLimit(t *testing.T) {
	var page []models.TargetMetadata
	for i := 0; i < 10; i++ {
		page = append(page, target(fmt.Sprintf("t%d", i), 5000, 10))
	}
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			cfg := baseConfig()
			cfg.Limit = 4
			cfg.Workers = workers
			cfg.DeepAnalysis = true

			src := &fakeSource{pages: [][]models.TargetMetadata{page, page}}
			report, err := newOrchestrator(src, newDownloader(), &fakeAnalyzer{}, openRepo(t), nil).Run(context.Background(), cfg)
			require.NoError(t, err)
			assert.Len(t, report.Results, 4)
			assert.Equal(t, int32(1), src.calls.Load())
		})
	}
}

func TestMinScoreFilter(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("quiet", 50, 10), target("loud", 2_000_000, 1000)}}}
	cfg := baseConfig()
	cfg.MinScore = 20

	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "loud", report.Results[0].Slug)
}

func TestNoTargetsMarksFailed(t *testing.T) {
	repo := openRepo(t)
	report, err := newOrchestrator(&fakeSource{}, nil, nil, repo, nil).Run(context.Background(), baseConfig())
	require.ErrorIs(t, err, ErrNoTargets)
	require.NotNil(t, report)
	assert.Equal(t, StateFailed, report.State)

	s, err := repo.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Equal(t, "no targets found", s.ErrorMessage)
}

func TestFirstPageErrorKeptInFailureMessage(t *testing.T) {
	repo := openRepo(t)
	src := &fakeSource{errAt: map[int]error{1: errors.New("catalog returned 503")}}
	report, err := newOrchestrator(src, nil, nil, repo, nil).Run(context.Background(), baseConfig())
	require.ErrorIs(t, err, ErrNoTargets)
	require.ErrorContains(t, err, "catalog returned 503")
	require.NotNil(t, report)
	assert.Equal(t, StateFailed, report.State)

	s, err := repo.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Contains(t, s.ErrorMessage, "no targets found")
	assert.Contains(t, s.ErrorMessage, "catalog returned 503")
}

func TestSourceErrorEndsPagination(t *testing.T) {
	src := &fakeSource{
		pages: [][]models.TargetMetadata{{target("a", 5000, 10)}, {target("b", 5000, 10)}},
		errAt: map[int]error{2: errors.New("connection reset")},
	}
	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), baseConfig())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Len(t, report.Results, 1)
}

func TestCancellationMarksFailedAndKeepsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{pages: [][]models.TargetMetadata{{target("a", 5000, 10), target("b", 5000, 10)}, {target("c", 5000, 10)}}}
	obs := &recordingObserver{onResult: func(models.ScoredResult) { cancel() }}
	repo := openRepo(t)

	report, err := newOrchestrator(src, nil, nil, repo, obs).Run(ctx, baseConfig())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, report.State)

	s, err := repo.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.True(t, strings.HasPrefix(s.ErrorMessage, "scan cancelled"), s.ErrorMessage)

	rows, err := repo.GetSessionResults(context.Background(), report.SessionID, storage.ResultQuery{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

type failingRepo struct {
	storage.Repository
	failAfter int
	saved     int
}

func (f *failingRepo) SaveResult(ctx context.Context, id string, r models.ScoredResult) (int64, error) {
	if f.saved >= f.failAfter {
		return 0, errors.New("disk full")
	}
	f.saved++
	return f.Repository.SaveResult(ctx, id, r)
}

func TestStorageFailureMarksFailed(t *testing.T) {
	inner := openRepo(t)
	repo := &failingRepo{Repository: inner, failAfter: 1}
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("a", 5000, 10), target("b", 5000, 10), target("c", 5000, 10)}}}

	report, err := newOrchestrator(src, nil, nil, repo, nil).Run(context.Background(), baseConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	s, err := inner.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Contains(t, s.ErrorMessage, "disk full")

	rows, _ := inner.GetSessionResults(context.Background(), report.SessionID, storage.ResultQuery{})
	assert.Len(t, rows, 1, "already persisted results stay queryable")
}

func TestInvalidConfigRejectedBeforeWork(t *testing.T) {
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("a", 1, 1)}}}
	cfg := baseConfig()
	cfg.MinDays, cfg.MaxDays = 10, 5

	report, err := newOrchestrator(src, nil, nil, openRepo(t), nil).Run(context.Background(), cfg)
	require.ErrorIs(t, err, scanconfig.ErrInvalidConfig)
	assert.Nil(t, report)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestRunDeterministic(t *testing.T) {
	page := []models.TargetMetadata{target("x", 200_000, 900, "upload"), target("y", 20, 5)}
	an := &fakeAnalyzer{findings: map[string][]string{"x": {"unserialize", "eval"}}}
	cfg := baseConfig()
	cfg.DeepAnalysis = true

	run := func() []models.ScoredResult {
		report, err := newOrchestrator(&fakeSource{pages: [][]models.TargetMetadata{page}}, newDownloader(), an, openRepo(t), nil).Run(context.Background(), cfg)
		require.NoError(t, err)
		return report.Results
	}
	assert.Equal(t, run(), run())
}

type lifecycleObserver struct {
	recordingObserver
	started string
	ended   *Report
}

func (l *lifecycleObserver) OnRunStart(id string) { l.started = id }
func (l *lifecycleObserver) OnRunEnd(r *Report) { l.ended = r }

func TestRunObserverBoundaries(t *testing.T) {
	obs := &lifecycleObserver{}
	src := &fakeSource{pages: [][]models.TargetMetadata{{target("a", 5000, 10)}}}

	report, err := newOrchestrator(src, nil, nil, openRepo(t), MultiObserver{obs}).Run(context.Background(), baseConfig())
	require.NoError(t, err)
	assert.Equal(t, report.SessionID, obs.started)
	assert.Same(t, report, obs.ended)
	assert.Equal(t, []string{"a"}, obs.slugs)
}

func TestTopNStable(t *testing.T) {
	results := []models.ScoredResult{
		{TargetMetadata: models.TargetMetadata{Slug: "a"}, Score: 10},
		{TargetMetadata: models.TargetMetadata{Slug: "b"}, Score: 40},
		{TargetMetadata: models.TargetMetadata{Slug: "c"}, Score: 40},
		{TargetMetadata: models.TargetMetadata{Slug: "d"}, Score: 5},
	}

	top := TopN(results, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Slug)
	assert.Equal(t, "c", top[1].Slug)

	assert.Nil(t, TopN(results, 0))
	assert.Nil(t, TopN(results, -3))
	assert.Len(t, TopN(results, 10), 4)
	assert.Equal(t, "a", results[0].Slug, "input must not be reordered")
}
