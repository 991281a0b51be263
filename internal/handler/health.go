package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"preview-gateway/internal/config"
)

// Version is the build version, injected by fx.
type Version string

// HealthHandler serves the liveness probe and the preview status page.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type previewStatus struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	BackendURL      string `json:"backend_url"`
	MaxRewriteBytes int64  `json:"max_rewrite_bytes"`
	Supabase        struct {
		Configured bool   `json:"configured"`
		ProjectRef string `json:"project_ref,omitempty"`
	} `json:"supabase"`
	HistoryBackend string `json:"history_backend"`
	MigrationsDir  string `json:"migrations_dir"`
}

// Status reports where previews are forwarded and whether the SQL bridge
// can reach Supabase. Secrets are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	s := previewStatus{
		Status:          "ok",
		Version:         string(h.version),
		BackendURL:      h.cfg.Upstream.BaseURL,
		MaxRewriteBytes: h.cfg.Preview.MaxRewriteBytes,
		HistoryBackend:  h.cfg.HistoryBackend(),
		MigrationsDir:   h.cfg.Migrations.Dir,
	}
	s.Supabase.Configured = h.cfg.Supabase.AccessToken != ""
	s.Supabase.ProjectRef = h.cfg.Supabase.ProjectRef
	return c.JSON(http.StatusOK, s)
}
