package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"preview-gateway/internal/client"
	"preview-gateway/internal/config"
	"preview-gateway/internal/handler"
	"preview-gateway/internal/logging"
	"preview-gateway/internal/metrics"
	"preview-gateway/internal/middleware"
	"preview-gateway/internal/service"
	"preview-gateway/internal/store"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// migrationsFS is the directory of *.sql migration files.
type migrationsFS fs.FS

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("preview-gateway"),
		kong.Description("Preview proxy for remote dev servers with a Supabase migration bridge."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewBackendClient,
			client.NewSupabaseClient,
			newHistoryStore,
			newMigrationsFS,
			newPreviewService,
			newBridge,
			handler.NewPreviewHandler,
			handler.NewMigrationHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*slog.Logger, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeLog()
			return nil
		},
	})
	return logger, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout stays
	// above the backend timeout so a slow dev server still gets its 502 page.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds+10) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newHistoryStore opens PostgreSQL when history.database_url is set and
// falls back to an in-memory store otherwise.
func newHistoryStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.HistoryStore, error) {
	if cfg.History.DatabaseURL == "" {
		logger.Warn("history.database_url not set, SQL history is kept in memory")
		return store.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.History.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	logger.Info("SQL history stored in postgres")
	return pg, nil
}

func newMigrationsFS(cfg *config.Config) migrationsFS {
	return os.DirFS(cfg.Migrations.Dir)
}

func newPreviewService(b *client.BackendClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*service.PreviewService, error) {
	return service.NewPreviewService(b, cfg, logger, m)
}

func newBridge(sc *client.SupabaseClient, h store.HistoryStore, src migrationsFS, logger *slog.Logger, m *metrics.Metrics) *service.Bridge {
	return service.NewBridge(sc, h, src, logger, m)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"backend_url", cfg.Upstream.BaseURL,
				"history", cfg.HistoryBackend(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
