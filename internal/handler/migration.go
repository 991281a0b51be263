package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"preview-gateway/internal/client"
	"preview-gateway/internal/config"
	"preview-gateway/internal/migration"
	"preview-gateway/internal/service"
	"preview-gateway/internal/store"
)

var versionPattern = regexp.MustCompile(`^[0-9]+$`)

type applyRequest struct {
	ProjectRef string `json:"project_ref"`
	Version    string `json:"version"`
}

func (r applyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectRef, validation.Required),
		validation.Field(&r.Version, validation.Match(versionPattern).Error("must be a digit string")),
	)
}

type executeRequest struct {
	ProjectRef string `json:"project_ref"`
	Query      string `json:"query"`
}

func (r executeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProjectRef, validation.Required),
		validation.Field(&r.Query, validation.Required),
	)
}

// MigrationHandler serves the migration and SQL execution endpoints.
type MigrationHandler struct {
	bridge *service.Bridge
	cfg    *config.Config
	logger *slog.Logger
}

// NewMigrationHandler creates a MigrationHandler.
func NewMigrationHandler(b *service.Bridge, cfg *config.Config, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{
		bridge: b,
		cfg:    cfg,
		logger: logger.With("component", "migration_handler"),
	}
}

// projectRef falls back to the configured project when the request names none.
func (h *MigrationHandler) projectRef(ref string) string {
	if ref != "" {
		return ref
	}
	return h.cfg.Supabase.ProjectRef
}

func errProjectRef(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": "project ref required: pass projectRef or set supabase.project_ref",
	})
}

// Status lists migrations with their state for a project.
func (h *MigrationHandler) Status(c echo.Context) error {
	ref := h.projectRef(c.QueryParam("projectRef"))
	if ref == "" {
		return errProjectRef(c)
	}

	ov, err := h.bridge.Status(c.Request().Context(), ref)
	if err != nil {
		return h.mapError(c, err, nil)
	}
	return c.JSON(http.StatusOK, ov)
}

// Apply applies one migration, or every pending one when no version is given.
func (h *MigrationHandler) Apply(c echo.Context) error {
	var req applyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	req.ProjectRef = h.projectRef(req.ProjectRef)
	if req.ProjectRef == "" {
		return errProjectRef(c)
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ctx := c.Request().Context()
	if req.Version == "" {
		records, err := h.bridge.ApplyPending(ctx, req.ProjectRef)
		if err != nil {
			return h.mapError(c, err, map[string]any{"records": records})
		}
		return c.JSON(http.StatusOK, map[string]any{"records": records})
	}

	rec, err := h.bridge.Apply(ctx, req.ProjectRef, req.Version)
	if err != nil {
		var extra map[string]any
		if rec.ID != "" {
			extra = map[string]any{"records": []store.Record{rec}}
		}
		return h.mapError(c, err, extra)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": []store.Record{rec}})
}

// Execute runs an ad-hoc SQL query.
func (h *MigrationHandler) Execute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	req.ProjectRef = h.projectRef(req.ProjectRef)
	if req.ProjectRef == "" {
		return errProjectRef(c)
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	rec, rows, err := h.bridge.Execute(c.Request().Context(), req.ProjectRef, req.Query)
	if err != nil {
		var extra map[string]any
		if rec.ID != "" {
			extra = map[string]any{"record": rec}
		}
		return h.mapError(c, err, extra)
	}
	return c.JSON(http.StatusOK, map[string]any{"record": rec, "rows": rows})
}

// History lists recent executions for a project.
func (h *MigrationHandler) History(c echo.Context) error {
	ref := h.projectRef(c.QueryParam("projectRef"))
	if ref == "" {
		return errProjectRef(c)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	records, err := h.bridge.History(c.Request().Context(), ref, limit)
	if err != nil {
		return h.mapError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": records})
}

// mapError writes the JSON error response for err; extra fields are merged
// into the body.
func (h *MigrationHandler) mapError(c echo.Context, err error, extra map[string]any) error {
	status, msg := http.StatusInternalServerError, "internal error"

	var apiErr *client.APIError
	var urlErr *url.Error
	switch {
	case errors.Is(err, client.ErrMissingAccessToken):
		status, msg = http.StatusUnauthorized, client.ErrMissingAccessToken.Error()
	case errors.Is(err, service.ErrMigrationNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrAlreadyApplied):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, migration.ErrDuplicateVersion):
		msg = err.Error()
	case errors.As(err, &apiErr):
		status, msg = http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "supabase request timed out"
	case errors.As(err, &urlErr):
		status, msg = http.StatusBadGateway, "supabase connection failed"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("migration bridge error", "err", err, "path", c.Request().URL.Path)
	} else {
		h.logger.Warn("migration bridge request rejected", "err", err, "path", c.Request().URL.Path)
	}

	body := map[string]any{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}
