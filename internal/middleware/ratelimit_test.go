package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func newLimitedEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.Use(RequestLogger(logger))
	// 1 rps with the default burst of 1.
	e.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(1))))
	e.GET("/api/preview/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func previewFrom(e *echo.Echo, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/preview/proxy?sessionId=s1&port=5173", http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	e := newLimitedEcho(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if code := previewFrom(e, "10.0.0.1:1000"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", code)
	}

	limited := false
	for range 10 {
		if previewFrom(e, "10.0.0.1:1000") == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected a 429 for repeated requests from one client")
	}

	// A second client has its own bucket.
	if code := previewFrom(e, "10.0.0.2:1000"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", code)
	}
}

func TestRateLimiter_RejectionIsLoggedAsWarning(t *testing.T) {
	var buf bytes.Buffer
	e := newLimitedEcho(slog.New(slog.NewTextHandler(&buf, nil)))

	for range 5 {
		previewFrom(e, "10.0.0.3:1000")
	}

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=429") {
		t.Errorf("expected a warn entry with status 429, got:\n%s", out)
	}
	if !strings.Contains(out, "session_id=s1") {
		t.Errorf("expected session_id in log, got:\n%s", out)
	}
}
