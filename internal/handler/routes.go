package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"preview-gateway/internal/config"
	"preview-gateway/internal/metrics"
	"preview-gateway/internal/rewrite"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics,
	preview *PreviewHandler, migrations *MigrationHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/preview/status", health.Status)

	e.GET(rewrite.ProxyPath, preview.Handle)

	e.GET("/api/migrations", migrations.Status)
	e.POST("/api/migrations/apply", migrations.Apply)
	e.POST("/api/sql/execute", migrations.Execute)
	e.GET("/api/sql/history", migrations.History)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
