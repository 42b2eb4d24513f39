// Package api serves scan sessions, results and live scan events over HTTP.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/metrics"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scan"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/storage"
)

//go:embed static
var staticFiles embed.FS

const (
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 10 * time.Second
	maxRecommendations = 10
)

// RunFunc executes one scan, delivering results to obs
type RunFunc func(ctx context.Context, cfg scanconfig.Config, obs scan.Observer) (*scan.Report, error)

// Options configures a Server
type Options struct {
	Repository storage.Repository
	Run        RunFunc
	BaseConfig scanconfig.Config
	Metrics    *metrics.Recorder
	Logger     *slog.Logger

	RateLimit float64
	RateBurst int
	BodyLimit int64
}

// Server is the HTTP front end of the scanner
type Server struct {
	opts   Options
	engine *gin.Engine
	hub    *Hub
	logger *slog.Logger

	scanCtx    context.Context
	cancelAll  context.CancelFunc
	mu         sync.Mutex
	running    map[string]context.CancelFunc
	wg         sync.WaitGroup
	shutdownMu sync.Mutex
}

// NewServer builds the router. Run may be nil, in which case scans cannot be
// started through the API.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		hub:       NewHub(opts.Logger),
		logger:    opts.Logger,
		scanCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]context.CancelFunc),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(SecurityHeaders())
	r.Use(BodySizeLimit(s.opts.BodyLimit))
	r.Use(RateLimitPerIP(s.opts.RateLimit, s.opts.RateBurst))

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
	api.GET("/sessions/:id/results", s.getResults)
	api.GET("/sessions/:id/summary", s.getSummary)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/scans", s.startScan)
	api.DELETE("/scans/:id", s.cancelScan)

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	r.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })

	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return r
	}
	// http.FileServer redirects requests for index.html, so the page is served directly
	if index, err := fs.ReadFile(sub, "index.html"); err == nil {
		r.GET("/", func(c *gin.Context) {
			c.Data(http.StatusOK, "text/html; charset=utf-8", index)
		})
	}
	r.StaticFileFS("/app.js", "app.js", http.FS(sub))
	r.StaticFileFS("/style.css", "style.css", http.FS(sub))
	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the live event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	return nil
}

// Shutdown cancels running scans, waits for them to persist their final state
// and disconnects websocket clients.
func (s *Server) Shutdown() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	s.cancelAll()
	s.wg.Wait()
	s.hub.Close()
}

// Running reports whether a scan for the session is in progress
func (s *Server) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Server) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	running := len(s.running)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"running_scans": running,
		"ws_clients":    s.hub.Clients(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	limit, err := ParseLimit(c.Query("limit"), storage.DefaultSessionLimit, MaxSessionLimit)
	if err != nil {
		badRequest(c, err)
		return
	}

	sessions, err := s.opts.Repository.ListSessions(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []models.ScanSession{}
	}
	c.JSON(http.StatusOK, sessions)
}

// loadSession writes the error response itself and returns nil when the
// session cannot be served
func (s *Server) loadSession(c *gin.Context) *models.ScanSession {
	id := c.Param("id")
	if err := ValidateSessionID(id); err != nil {
		badRequest(c, err)
		return nil
	}

	session, err := s.opts.Repository.GetSession(c.Request.Context(), id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return nil
	}
	if err != nil {
		s.internalError(c, "failed to load session", err)
		return nil
	}
	return session
}

func (s *Server) getSession(c *gin.Context) {
	session := s.loadSession(c)
	if session == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"running": s.Running(session.ID),
	})
}

func (s *Server) getResults(c *gin.Context) {
	session := s.loadSession(c)
	if session == nil {
		return
	}

	q, err := ParseResultQuery(c.Query("sort"), c.Query("order"), c.Query("limit"))
	if err != nil {
		badRequest(c, err)
		return
	}

	results, err := s.opts.Repository.GetSessionResults(c.Request.Context(), session.ID, q)
	if err != nil {
		s.internalError(c, "failed to load results", err)
		return
	}
	if results == nil {
		results = []models.ResultRecord{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) getSummary(c *gin.Context) {
	session := s.loadSession(c)
	if session == nil {
		return
	}

	records, err := s.opts.Repository.GetSessionResults(c.Request.Context(), session.ID, storage.ResultQuery{
		SortBy: models.SortByScore,
		Order:  models.OrderDesc,
		Limit:  math.MaxInt32,
	})
	if err != nil {
		s.internalError(c, "failed to load results", err)
		return
	}

	results := make([]models.ScoredResult, 0, len(records))
	for _, rec := range records {
		results = append(results, rec.ScoredResult)
	}

	threshold := s.sessionThreshold(session)
	summary := aggregator.Summarize(results, aggregator.Counters{Evaluated: len(results)}, threshold)
	gen := aggregator.NewRecommendationGenerator()
	recs := gen.GetTopRecommendations(gen.GenerateRecommendations(results), maxRecommendations)
	if recs == nil {
		recs = []aggregator.Recommendation{}
	}

	c.JSON(http.StatusOK, gin.H{
		"session":         session,
		"summary":         summary,
		"recommendations": recs,
	})
}

// sessionThreshold reads the high-risk threshold recorded with the session,
// falling back to the server default
func (s *Server) sessionThreshold(session *models.ScanSession) int {
	cfg := s.opts.BaseConfig
	if session.ConfigJSON != "" {
		_ = json.Unmarshal([]byte(session.ConfigJSON), &cfg)
	}
	return cfg.HighRiskThreshold
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateSessionID(id); err != nil {
		badRequest(c, err)
		return
	}
	if s.Running(id) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "scan is still running"})
		return
	}

	found, err := s.opts.Repository.DeleteSession(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, "failed to delete session", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startScan(c *gin.Context) {
	if s.opts.Run == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "scanning is disabled"})
		return
	}

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		badRequest(c, fmt.Errorf("invalid scan request: %w", err))
		return
	}

	cfg, notices, err := req.Build(s.opts.BaseConfig)
	if err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.launch(c.Request.Context(), cfg)
	if err != nil {
		s.internalError(c, "failed to start scan", err)
		return
	}
	if notices == nil {
		notices = []string{}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": id,
		"notices":    notices,
		"config":     cfg,
	})
}

// launch starts a scan in the background and returns its session id once the
// session exists
func (s *Server) launch(reqCtx context.Context, cfg scanconfig.Config) (string, error) {
	ctx, cancel := context.WithCancel(s.scanCtx)
	started := make(chan string, 1)
	done := make(chan error, 1)

	obs := scan.MultiObserver{
		s.hub.Observer(),
		&startSignal{onStart: func(id string) {
			s.track(id, cancel)
			started <- id
		}},
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		report, err := s.opts.Run(ctx, cfg, obs)
		if report != nil {
			s.untrack(report.SessionID)
		}
		if err != nil {
			s.logger.Warn("scan ended with error", "error", err)
		}
		done <- err
	}()

	select {
	case id := <-started:
		return id, nil
	case err := <-done:
		select {
		case id := <-started:
			return id, nil
		default:
		}
		if err == nil {
			err = errors.New("scan finished without a session")
		}
		return "", err
	case <-reqCtx.Done():
		// The scan keeps running; the caller can find it through the session list.
		return "", reqCtx.Err()
	}
}

type startSignal struct {
	onStart func(id string)
}

func (s *startSignal) OnRunStart(id string)         { s.onStart(id) }
func (s *startSignal) OnResult(models.ScoredResult) {}
func (s *startSignal) OnRunEnd(*scan.Report)        {}

func (s *Server) cancelScan(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateSessionID(id); err != nil {
		badRequest(c, err)
		return
	}

	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
		c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
		return
	}

	if session := s.loadSession(c); session != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: fmt.Sprintf("scan is not running (status %s)", session.Status)})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
}
