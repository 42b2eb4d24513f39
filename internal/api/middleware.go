package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestBodyLimitBytes caps request payload size to prevent memory exhaustion.
	DefaultRequestBodyLimitBytes int64 = 1 << 20 // 1 MiB

	// DefaultRateLimitPerSecond is the sustained request rate per client IP.
	DefaultRateLimitPerSecond = 5

	// DefaultRateLimitBurst is the request burst allowed per client IP.
	DefaultRateLimitBurst = 30

	// idleLimiterTTL drops limiters of clients not seen for this long.
	idleLimiterTTL = 10 * time.Minute
)

const (
	securityHeaderNoSniff = "nosniff"
	securityHeaderNoFrame = "DENY"
	securityHeaderCSP     = "default-src 'none'; script-src 'self'; style-src 'self'; connect-src 'self'; img-src 'self'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"
	securityHeaderRef     = "no-referrer"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	now      func() time.Time
	limiters map[string]*ipLimiter
}

func newIPRateLimiter(rps float64, burst int, now func() time.Time) *ipRateLimiter {
	if rps <= 0 {
		rps = DefaultRateLimitPerSecond
	}
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}
	if now == nil {
		now = time.Now
	}

	return &ipRateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      now,
		limiters: make(map[string]*ipLimiter),
	}
}

func (l *ipRateLimiter) allow(clientIP string) bool {
	now := l.now()
	if clientIP == "" {
		clientIP = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop idle clients to keep memory bounded.
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= idleLimiterTTL {
			delete(l.limiters, ip)
		}
	}

	entry, ok := l.limiters[clientIP]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[clientIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// retryAfter is the whole number of seconds until one token refills
func (l *ipRateLimiter) retryAfter() int {
	secs := int(1 / float64(l.rps))
	if secs <= 0 {
		secs = 1
	}
	return secs
}

// SecurityHeaders adds baseline browser hardening headers to every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", securityHeaderNoSniff)
		h.Set("X-Frame-Options", securityHeaderNoFrame)
		h.Set("Content-Security-Policy", securityHeaderCSP)
		h.Set("Referrer-Policy", securityHeaderRef)
		c.Next()
	}
}

// BodySizeLimit caps request body size before handler processing.
func BodySizeLimit(limitBytes int64) gin.HandlerFunc {
	if limitBytes <= 0 {
		limitBytes = DefaultRequestBodyLimitBytes
	}

	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limitBytes)
		}
		c.Next()
	}
}

// RateLimitPerIP throttles requests by client IP with a token bucket.
func RateLimitPerIP(rps float64, burst int) gin.HandlerFunc {
	return rateLimitPerIPWithClock(rps, burst, time.Now)
}

func rateLimitPerIPWithClock(rps float64, burst int, now func() time.Time) gin.HandlerFunc {
	limiter := newIPRateLimiter(rps, burst, now)

	return func(c *gin.Context) {
		if limiter.allow(clientIPFromRequest(c.Request)) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(limiter.retryAfter()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
	}
}

// RequestLogger logs each request at debug level
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", clientIPFromRequest(c.Request),
		)
	}
}

func clientIPFromRequest(r *http.Request) string {
	forwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwardedFor != "" {
		clientIP := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if clientIP != "" {
			return clientIP
		}
	}

	remoteAddr := strings.TrimSpace(r.RemoteAddr)
	if remoteAddr == "" {
		return "unknown"
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}

	return remoteAddr
}
