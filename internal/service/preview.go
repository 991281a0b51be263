// Package service implements preview forwarding and the migration bridge.
package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"preview-gateway/internal/config"
	"preview-gateway/internal/metrics"
	"preview-gateway/internal/model"
	"preview-gateway/internal/rewrite"
)

// BackendFetcher performs the single outbound call of a preview request.
type BackendFetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*model.UpstreamResponse, error)
}

// forwardableResponseHeaders are the only upstream response headers copied to the browser.
var forwardableResponseHeaders = []string{
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// PreviewService forwards preview requests to the backend and prepares the
// browser response.
type PreviewService struct {
	backend  BackendFetcher
	cfg      *config.Config
	logger   *slog.Logger
	baseURL  *url.URL
	rewriter rewrite.URLRewriter
	metrics  *metrics.Metrics
}

// NewPreviewService creates a PreviewService. The metrics parameter is optional.
func NewPreviewService(b BackendFetcher, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*PreviewService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &PreviewService{
		backend:  b,
		cfg:      cfg,
		logger:   logger.With("component", "preview_service"),
		baseURL:  u,
		rewriter: rewrite.AttributeRewriter{},
		metrics:  m,
	}, nil
}

// Forward fetches the requested page from the backend and returns the
// response to write to the browser. A non-nil error means no response was
// received from the backend at all.
func (s *PreviewService) Forward(ctx context.Context, pr model.PreviewRequest) (*model.PreviewResponse, error) {
	target := s.buildUpstreamURL(pr)

	s.logger.Debug("forwarding preview request",
		"session_id", pr.SessionID,
		"port", pr.Port,
		"path", pr.Path,
	)

	resp, err := s.backend.Fetch(ctx, target, s.upstreamHeader())
	if err != nil {
		return nil, fmt.Errorf("fetch preview: %w", err)
	}
	return s.Render(pr, resp), nil
}

func (s *PreviewService) buildUpstreamURL(pr model.PreviewRequest) string {
	u := s.baseURL.JoinPath(rewrite.ProxyPath)

	q := make(url.Values)
	q.Set("sessionId", pr.SessionID)
	q.Set("port", strconv.Itoa(pr.Port))
	q.Set("path", pr.Path)
	u.RawQuery = q.Encode()

	return u.String()
}

func (s *PreviewService) upstreamHeader() http.Header {
	h := make(http.Header)
	h.Set("Accept-Encoding", "identity")
	if s.cfg.Upstream.APIKey != "" {
		h.Set("X-API-Key", s.cfg.Upstream.APIKey)
	}
	return h
}

// Render turns a buffered upstream response into the browser response:
// non-OK bodies pass through with a best-effort HTML label, OK HTML is
// rewritten, and anything else is copied verbatim.
func (s *PreviewService) Render(pr model.PreviewRequest, resp *model.UpstreamResponse) *model.PreviewResponse {
	header := filterResponseHeaders(resp.Header)
	header.Set("X-Frame-Options", "SAMEORIGIN")

	contentType := ContentType(resp.Header)

	if !resp.OK() {
		if LooksLikeHTML(resp.Body) {
			contentType = model.HTMLContentType
		}
		header.Set("Content-Type", contentType)
		return &model.PreviewResponse{StatusCode: resp.StatusCode, Header: header, Body: resp.Body}
	}

	if !IsHTML(contentType) {
		s.countRewrite(metrics.RewritePassthrough)
		header.Set("Content-Type", contentType)
		return &model.PreviewResponse{StatusCode: resp.StatusCode, Header: header, Body: resp.Body}
	}

	header.Set("Content-Type", model.HTMLContentType)

	if limit := s.cfg.Preview.MaxRewriteBytes; limit > 0 && int64(len(resp.Body)) > limit {
		s.logger.Warn("HTML body exceeds rewrite limit, passing through",
			"session_id", pr.SessionID,
			"path", pr.Path,
			"bytes", len(resp.Body),
			"limit", limit,
		)
		s.countRewrite(metrics.RewriteSkippedSize)
		return &model.PreviewResponse{StatusCode: resp.StatusCode, Header: header, Body: resp.Body}
	}

	rc := rewrite.Context{SessionID: pr.SessionID, Port: pr.Port}
	body := rewrite.Document(string(resp.Body), rc, s.rewriter)
	s.countRewrite(metrics.RewriteApplied)

	return &model.PreviewResponse{StatusCode: resp.StatusCode, Header: header, Body: []byte(body)}
}

func (s *PreviewService) countRewrite(outcome string) {
	if s.metrics != nil {
		s.metrics.RewritesTotal.WithLabelValues(outcome).Inc()
	}
}

// ContentType returns the declared content type, or the HTML default when
// the upstream sent none.
func ContentType(h http.Header) string {
	if ct := h.Get("Content-Type"); ct != "" {
		return ct
	}
	return model.HTMLContentType
}

// IsHTML reports whether contentType selects HTML rewriting.
func IsHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// LooksLikeHTML reports whether an error body is probably an HTML page.
func LooksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<!")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
	return dst
}
