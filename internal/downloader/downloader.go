package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scan"
)

// DefaultTimeout bounds one download plus extraction
const DefaultTimeout = 60 * time.Second

// DefaultMaxArchiveSize caps the compressed archive
const DefaultMaxArchiveSize = 100 << 20

// DownloadBaseURL serves archives of targets without an explicit link
const DownloadBaseURL = "https://downloads.wordpress.org"

// ErrInvalidSlug is returned for slugs that are unsafe as directory names
var ErrInvalidSlug = errors.New("invalid slug")

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Options configures a Downloader
type Options struct {
	// Dir receives one extracted tree per slug. Empty means a temp directory
	// created on first use and removed by Cleanup.
	Dir            string
	Timeout        time.Duration
	MaxArchiveSize int64
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Result is the outcome of downloading a single target
type Result struct {
	Slug     string        `json:"slug"`
	Score    int           `json:"score"`
	Path     string        `json:"path,omitempty"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// Downloader fetches target archives and extracts them
type Downloader struct {
	mu      sync.Mutex
	dir     string
	ownsDir bool
	timeout time.Duration
	maxSize int64
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger

	// base parents shared fetches; Cleanup cancels it
	base context.Context
	stop context.CancelFunc
}

var _ scan.Downloader = (*Downloader)(nil)

// New creates a Downloader
func New(opts Options) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxArchiveSize <= 0 {
		opts.MaxArchiveSize = DefaultMaxArchiveSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	logger := opts.Logger
	base, stop := context.WithCancel(context.Background())
	return &Downloader{
		base:    base,
		stop:    stop,
		dir:     opts.Dir,
		timeout: opts.Timeout,
		maxSize: opts.MaxArchiveSize,
		client:  opts.HTTPClient,
		logger:  logger,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "downloads",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Dir returns the extraction root, creating a temp directory if none was configured
func (d *Downloader) Dir() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir != "" {
		return d.dir, nil
	}
	dir, err := os.MkdirTemp("", "wphunter-src-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	d.dir = dir
	d.ownsDir = true
	return dir, nil
}

// FetchSource downloads and extracts the target into <dir>/<slug> and
// returns that path. Concurrent calls for the same slug share one download.
// The shared download is bounded by the timeout rather than by any one
// caller's context, so a cancelled caller returns early without failing
// the others.
func (d *Downloader) FetchSource(ctx context.Context, target models.TargetMetadata) (string, error) {
	if !slugPattern.MatchString(target.Slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, target.Slug)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	base := d.base
	d.mu.Unlock()

	ch := d.group.DoChan(target.Slug, func() (interface{}, error) {
		return d.fetch(base, target)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (d *Downloader) fetch(ctx context.Context, target models.TargetMetadata) (string, error) {
	root, err := d.Dir()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	link := ArchiveURL(target)
	archive, err := os.CreateTemp("", "wphunter-*.zip")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	start := time.Now()
	_, err = d.cb.Execute(func() (interface{}, error) {
		return nil, d.download(ctx, link, archive)
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", target.Slug, err)
	}

	dest := filepath.Join(root, target.Slug)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear %s: %w", dest, err)
	}
	if err := extract(ctx, archive.Name(), dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("extract %s: %w", target.Slug, err)
	}

	d.logger.Debug("source fetched", "slug", target.Slug, "path", dest, "duration", time.Since(start))
	return dest, nil
}

func (d *Downloader) download(ctx context.Context, link string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "wphunter")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if n > d.maxSize {
		return fmt.Errorf("archive exceeds %d bytes", d.maxSize)
	}
	return nil
}

// ArchiveURL returns the target's download link, or the catalog's default
// location for its kind
func ArchiveURL(target models.TargetMetadata) string {
	if target.DownloadLink != "" {
		return target.DownloadLink
	}
	kind := target.Kind
	if kind == "" {
		kind = models.KindPlugin
	}
	return fmt.Sprintf("%s/%s/%s.zip", DownloadBaseURL, kind, target.Slug)
}

// DownloadTop fetches the n highest-scoring results with at most workers
// concurrent downloads. Partial success: every selected target gets a Result.
func (d *Downloader) DownloadTop(ctx context.Context, results []models.ScoredResult, n, workers int) []Result {
	top := scan.TopN(results, n)
	out := make([]Result, len(top))
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range top {
		g.Go(func() error {
			start := time.Now()
			path, err := d.FetchSource(gctx, r.TargetMetadata)
			res := Result{Slug: r.Slug, Score: r.Score, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Path = path
				res.Success = true
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Paths returns the extracted paths of successful downloads only
func Paths(results []Result) []string {
	var paths []string
	for _, r := range results {
		if r.Success && r.Path != "" {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// Cleanup cancels shared downloads still in flight and removes the
// extraction root if the Downloader created it
func (d *Downloader) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stop()
	d.base, d.stop = context.WithCancel(context.Background())
	if !d.ownsDir || d.dir == "" {
		return nil
	}
	err := os.RemoveAll(d.dir)
	d.dir = ""
	d.ownsDir = false
	return err
}
