package wporg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scan"
)

// DefaultBaseURL is the public WordPress.org API
const DefaultBaseURL = "https://api.wordpress.org"

// DefaultTrustedAuthors are author names and profile slugs treated as trusted
var DefaultTrustedAuthors = []string{
	"automattic",
	"wordpressdotorg",
	"wordpress.org",
	"woocommerce",
	"yoast",
	"jetpack",
	"elementor",
	"wpengine",
}

// maxBodySize caps a single API response
const maxBodySize = 32 << 20

// Options configures a Client
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 disables limiting
	Proxy          string
	TrustedAuthors []string
	Logger         *slog.Logger
}

// Client pages through the plugin and theme catalogs
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
	trusted    map[string]bool
	logger     *slog.Logger
}

var _ scan.Source = (*Client)(nil)

// New creates a catalog client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.TrustedAuthors == nil {
		opts.TrustedAuthors = DefaultTrustedAuthors
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	tr, err := NewTransport(opts.Proxy)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	trusted := make(map[string]bool, len(opts.TrustedAuthors))
	for _, a := range opts.TrustedAuthors {
		trusted[strings.ToLower(strings.TrimSpace(a))] = true
	}

	logger := opts.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wporg-api",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errClient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: tr},
		limiter:    rate.NewLimiter(limit, 1),
		cb:         cb,
		trusted:    trusted,
		logger:     logger,
	}, nil
}

// errClient marks 4xx responses, which say nothing about upstream health
var errClient = errors.New("client error")

// FetchPage returns one page of the catalog and whether more pages follow
func (c *Client) FetchPage(ctx context.Context, page int, q scan.Query) ([]models.TargetMetadata, bool, error) {
	if page < 1 {
		return nil, false, fmt.Errorf("invalid page %d", page)
	}
	kind := q.Kind
	if kind == "" {
		kind = models.KindPlugin
	}

	reqURL := c.queryURL(kind, page, q)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s page %d: %w", kind, page, err)
	}

	resp, ok := out.(*queryResponse)
	if !ok {
		return nil, false, fmt.Errorf("unexpected response type %T", out)
	}

	raw := resp.Plugins
	if kind == models.KindTheme {
		raw = resp.Themes
	}
	targets := make([]models.TargetMetadata, 0, len(raw))
	for _, r := range raw {
		if r.Slug == "" {
			continue
		}
		targets = append(targets, r.toMetadata(kind, c.trusted))
	}

	more := resp.Info.Pages > 0 && resp.Info.Page < resp.Info.Pages
	c.logger.Debug("catalog page fetched", "kind", kind, "page", page, "targets", len(targets), "pages", resp.Info.Pages)
	return targets, more, nil
}

func (c *Client) queryURL(kind models.TargetKind, page int, q scan.Query) string {
	path, action := "/plugins/info/1.2/", "query_plugins"
	if kind == models.KindTheme {
		path, action = "/themes/info/1.2/", "query_themes"
	}

	params := url.Values{}
	params.Set("action", action)
	if q.Sort != "" {
		params.Set("request[browse]", q.Sort)
	}
	params.Set("request[page]", strconv.Itoa(page))
	if q.PerPage > 0 {
		params.Set("request[per_page]", strconv.Itoa(q.PerPage))
	}
	for _, f := range []string{"active_installs", "last_updated", "tags", "tested", "download_link"} {
		params.Set("request[fields]["+f+"]", "1")
	}
	for _, f := range []string{"description", "sections", "short_description", "screenshots", "versions"} {
		params.Set("request[fields]["+f+"]", "0")
	}
	return c.baseURL + path + "?" + params.Encode()
}

func (c *Client) get(ctx context.Context, reqURL string) (*queryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "wphunter")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: HTTP %d", errClient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (HTTP %d)", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
