package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/api"
	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/policy"
)

var (
	serveListen    string
	serveRateLimit float64
	serveRateBurst int
	serveNoPolicy  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web dashboard and JSON API",
	Long: `Serve a dashboard for starting scans, watching results stream in over a
WebSocket and browsing stored sessions. The JSON API lives under /api and
Prometheus metrics under /metrics.

The server binds to localhost by default; put it behind a proxy with
authentication before exposing it.

Example:
  wphunter serve
  wphunter serve --listen 0.0.0.0:9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "",
		"listen address (default: config listen)")
	serveCmd.Flags().Float64Var(&serveRateLimit, "rate-limit", api.DefaultRateLimitPerSecond,
		"API requests per second per client IP")
	serveCmd.Flags().IntVar(&serveRateBurst, "rate-burst", api.DefaultRateLimitBurst,
		"API request burst per client IP")
	serveCmd.Flags().BoolVar(&serveNoPolicy, "no-policy", false,
		"ignore the scoring policy file")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := serveListen
	if addr == "" {
		addr = cfg.Listen
	}
	if addr == "" {
		return &ValidationError{Message: "no listen address configured"}
	}

	logger := newLogger()

	var pol *policy.Policy
	if !serveNoPolicy {
		var err error
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
	defer func() { _ = p.downloader.Cleanup() }()

	srv := api.NewServer(api.Options{
		Repository: repo,
		Run:        p.run,
		BaseConfig: baseScanConfig(),
		Metrics:    rec,
		Logger:     logger,
		RateLimit:  serveRateLimit,
		RateBurst:  serveRateBurst,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "WPHunter dashboard listening on http://%s\n", addr)
	if err := srv.Run(ctx, addr); err != nil {
		logError("Server failed: %v", err)
		return err
	}
	return nil
}
