package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(mw gin.HandlerFunc, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.Any("/*path", h)
	return r
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func TestSecurityHeaders(t *testing.T) {
	r := newTestEngine(SecurityHeaders(), noContent)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != securityHeaderNoSniff {
		t.Fatalf("X-Content-Type-Options = %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if rec.Header().Get("X-Frame-Options") != securityHeaderNoFrame {
		t.Fatalf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
	if rec.Header().Get("Content-Security-Policy") != securityHeaderCSP {
		t.Fatalf("Content-Security-Policy = %q", rec.Header().Get("Content-Security-Policy"))
	}
	if rec.Header().Get("Referrer-Policy") != securityHeaderRef {
		t.Fatalf("Referrer-Policy = %q", rec.Header().Get("Referrer-Policy"))
	}
}

func TestBodySizeLimit(t *testing.T) {
	r := newTestEngine(BodySizeLimit(8), func(c *gin.Context) {
		_, err := io.Copy(io.Discard, c.Request.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusNoContent)
	})

	reqSmall := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader("12345678"))
	recSmall := httptest.NewRecorder()
	r.ServeHTTP(recSmall, reqSmall)
	if recSmall.Code != http.StatusNoContent {
		t.Fatalf("small request status = %d, want %d", recSmall.Code, http.StatusNoContent)
	}

	reqLarge := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader("123456789"))
	recLarge := httptest.NewRecorder()
	r.ServeHTTP(recLarge, reqLarge)
	if recLarge.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large request status = %d, want %d", recLarge.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := newTestEngine(rateLimitPerIPWithClock(1, 2, clock), noContent)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = ip + ":4444"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("198.51.100.1"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, http.StatusNoContent)
		}
	}

	rec := send("198.51.100.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	if rec := send("198.51.100.2"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	now = now.Add(time.Second)
	if rec := send("198.51.100.1"); rec.Code != http.StatusNoContent {
		t.Fatalf("after refill status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 1, func() time.Time { return now })

	l.allow("203.0.113.1")
	l.allow("203.0.113.2")
	if len(l.limiters) != 2 {
		t.Fatalf("limiters = %d, want 2", len(l.limiters))
	}

	now = now.Add(idleLimiterTTL)
	l.allow("203.0.113.3")
	if len(l.limiters) != 1 {
		t.Fatalf("limiters after idle = %d, want 1", len(l.limiters))
	}
}

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.7:5555", want: "192.0.2.7"},
		{name: "forwarded first hop", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.1", want: "203.0.113.9"},
		{name: "no port", remoteAddr: "192.0.2.8", want: "192.0.2.8"},
		{name: "empty", remoteAddr: "", want: "unknown"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIPFromRequest(req); got != tt.want {
				t.Fatalf("clientIPFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
