// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/preview-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are the route prefixes served by the gateway itself.
var reservedRoutes = []string{
	"/api/preview",
	"/api/migrations",
	"/api/sql",
	"/healthz",
	"/preview/status",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config              string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host                string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port                int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL          string `kong:"help='Dev-server backend base URL (overrides config).',env='BACKEND_URL'"`
	BackendAPIKey       string `kong:"help='API key sent to the backend as X-API-Key (overrides config).',env='BACKEND_API_KEY'"`
	SupabaseAccessToken string `kong:"help='Supabase Management API access token (overrides config).',env='SUPABASE_ACCESS_TOKEN'"`
	DatabaseURL         string `kong:"help='PostgreSQL URL for SQL execution history (overrides config).',env='DATABASE_URL'"`
	LogLevel            string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Upstream   UpstreamConfig   `toml:"upstream"`
	Preview    PreviewConfig    `toml:"preview"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Migrations MigrationsConfig `toml:"migrations"`
	History    HistoryConfig    `toml:"history"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds settings for the backend that hosts dev-server sessions.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// PreviewConfig tunes HTML rewriting.
type PreviewConfig struct {
	// MaxRewriteBytes is the largest HTML body that is rewritten; larger
	// documents pass through unmodified.
	MaxRewriteBytes int64 `toml:"max_rewrite_bytes"`
}

// SupabaseConfig holds Supabase Management API settings.
type SupabaseConfig struct {
	APIURL      string `toml:"api_url"`
	AccessToken string `toml:"access_token"`
	ProjectRef  string `toml:"project_ref"`
}

// MigrationsConfig points at the directory of *.sql migration files.
type MigrationsConfig struct {
	Dir string `toml:"dir"`
}

// HistoryConfig selects the SQL execution history backend. An empty
// DatabaseURL keeps history in memory.
type HistoryConfig struct {
	DatabaseURL string `toml:"database_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/preview-gateway/config.toml then configs/config.toml. If none exists
// the gateway runs on defaults plus CLI/env overrides.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Upstream.BaseURL = cli.BackendURL
	}
	if cli.BackendAPIKey != "" {
		c.Upstream.APIKey = cli.BackendAPIKey
	}
	if cli.SupabaseAccessToken != "" {
		c.Supabase.AccessToken = cli.SupabaseAccessToken
	}
	if cli.DatabaseURL != "" {
		c.History.DatabaseURL = cli.DatabaseURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateHTTPURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("supabase.api_url", c.Supabase.APIURL); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Preview.MaxRewriteBytes < 0 {
		return fmt.Errorf("preview.max_rewrite_bytes must be non-negative; got %d", c.Preview.MaxRewriteBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateHTTPURL accepts an empty value (defaulted later) or an absolute
// http(s) URL.
func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://localhost:4000"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Preview.MaxRewriteBytes == 0 {
		c.Preview.MaxRewriteBytes = 16 * 1024 * 1024 // 16 MB
	}
	if c.Supabase.APIURL == "" {
		c.Supabase.APIURL = "https://api.supabase.com"
	}
	if c.Migrations.Dir == "" {
		c.Migrations.Dir = "supabase/migrations"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HistoryBackend names the configured history store.
func (c *Config) HistoryBackend() string {
	if c.History.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may hold the backend API key and the Supabase token.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
