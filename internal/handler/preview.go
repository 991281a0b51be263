package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"preview-gateway/internal/errorpage"
	"preview-gateway/internal/model"
	"preview-gateway/internal/service"
)

// PreviewHandler serves dev-server pages through the preview proxy.
type PreviewHandler struct {
	service *service.PreviewService
	logger  *slog.Logger
}

// NewPreviewHandler creates a PreviewHandler.
func NewPreviewHandler(svc *service.PreviewService, logger *slog.Logger) *PreviewHandler {
	return &PreviewHandler{
		service: svc,
		logger:  logger.With("component", "preview_handler"),
	}
}

// Handle validates the query, fetches the page from the backend and writes
// the (possibly rewritten) response.
func (h *PreviewHandler) Handle(c echo.Context) error {
	pr, err := model.ParsePreviewRequest(c.QueryParams())
	if err != nil {
		return h.badRequest(c, err)
	}

	resp, err := h.service.Forward(c.Request().Context(), pr)
	if err != nil {
		h.logger.Error("[Preview Proxy] backend fetch failed",
			"err", err,
			"session_id", pr.SessionID,
			"port", pr.Port,
			"path", pr.Path,
		)
		return c.Blob(http.StatusBadGateway, model.HTMLContentType, errorpage.Render(err, pr.Port))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("[Preview Proxy] backend returned error status",
			"status", resp.StatusCode,
			"session_id", pr.SessionID,
			"path", pr.Path,
		)
	}

	// Replace rather than append so headers already set by middleware are
	// not duplicated.
	out := c.Response().Header()
	for key, vals := range resp.Header {
		out.Del(key)
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("[Preview Proxy] writing response body",
			"err", err,
			"session_id", pr.SessionID,
		)
	}
	return nil
}

func (h *PreviewHandler) badRequest(c echo.Context, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrMissingSessionID):
		msg = "Session ID required"
	case errors.Is(err, model.ErrInvalidPort):
		msg = "Invalid port"
	}
	h.logger.Warn("[Preview Proxy] rejected request", "err", err)
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
