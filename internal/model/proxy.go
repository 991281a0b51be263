// Package model defines shared types for the preview gateway.
package model

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Defaults applied to an inbound preview request.
const (
	DefaultPort = 3000
	DefaultPath = "/"
)

// HTMLContentType is the content type of every HTML document the gateway
// emits, and the assumed type of an upstream response that declares none.
const HTMLContentType = "text/html; charset=utf-8"

var (
	// ErrMissingSessionID is returned when the sessionId query parameter is absent.
	ErrMissingSessionID = errors.New("session ID required")
	// ErrInvalidPort is returned when port is not an integer in 1–65535.
	ErrInvalidPort = errors.New("invalid port")
)

// PreviewRequest identifies one page of a remote dev-server session.
type PreviewRequest struct {
	SessionID string
	Port      int
	Path      string
}

// Validate checks the request invariants.
func (r PreviewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SessionID, validation.Required),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&r.Path, validation.Required),
	)
}

// ParsePreviewRequest builds a PreviewRequest from the sessionId, port and
// path query parameters, applying defaults for port and path.
func ParsePreviewRequest(q url.Values) (PreviewRequest, error) {
	pr := PreviewRequest{
		SessionID: q.Get("sessionId"),
		Port:      DefaultPort,
		Path:      q.Get("path"),
	}
	if pr.SessionID == "" {
		return pr, ErrMissingSessionID
	}
	if pr.Path == "" {
		pr.Path = DefaultPath
	}
	if raw := q.Get("port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return pr, ErrInvalidPort
		}
		pr.Port = port
	}
	if err := pr.Validate(); err != nil {
		var errs validation.Errors
		if errors.As(err, &errs) {
			if _, ok := errs["Port"]; ok {
				return pr, ErrInvalidPort
			}
		}
		return pr, err
	}
	return pr, nil
}

// UpstreamResponse is a fully buffered response from the backend.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PreviewResponse is the response written back to the browser.
type PreviewResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
