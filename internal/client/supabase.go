package client

import (
	"bytes"
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

	"preview-gateway/internal/config"
	"preview-gateway/internal/metrics"
)

// ErrMissingAccessToken is returned when no Supabase access token is configured.
var ErrMissingAccessToken = errors.New("supabase access token required: set supabase.access_token or SUPABASE_ACCESS_TOKEN")

// APIError is a non-2xx answer from the Management API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// SupabaseClient wraps HTTP calls to the Supabase Management API.
type SupabaseClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewSupabaseClient creates a SupabaseClient from config. The metrics
// parameter is optional.
func NewSupabaseClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *SupabaseClient {
	return &SupabaseClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     strings.TrimRight(cfg.Supabase.APIURL, "/"),
		accessToken: cfg.Supabase.AccessToken,
		logger:      logger.With("component", "supabase_client"),
		metrics:     m,
	}
}

// ExecuteSQL runs a query against the project's database and returns the
// result rows as raw JSON.
func (c *SupabaseClient) ExecuteSQL(ctx context.Context, projectRef, query string) (json.RawMessage, error) {
	path := fmt.Sprintf("/v1/projects/%s/database/query", url.PathEscape(projectRef))
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"query": query})
}

func (c *SupabaseClient) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if c.accessToken == "" {
		return nil, ErrMissingAccessToken
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build supabase request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("supabase request", "method", method, "path", path)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(start, 0)
		return nil, fmt.Errorf("supabase request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respData, err := io.ReadAll(resp.Body)
	c.observe(start, resp.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("read supabase response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respData)),
		}
	}

	if len(respData) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(respData), nil
}

func (c *SupabaseClient) observe(start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues("supabase").Observe(time.Since(start).Seconds())
	if status != 0 {
		c.metrics.UpstreamResponses.WithLabelValues("supabase", strconv.Itoa(status)).Inc()
	}
}
