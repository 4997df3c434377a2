// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/records-gateway/config.toml",
	"configs/config.toml",
}

// DefaultBackendURL is used when neither the config file nor BACKEND_URL names a backend.
const DefaultBackendURL = "http://localhost:8080"

// Reserved routes served by the gateway itself.
const (
	HealthzPath = "/healthz"
	StatusPath  = "/gateway/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL  string `kong:"name='backend-url',help='Backend origin to forward to (overrides config).',env='BACKEND_URL'"`
	MountPrefix string `kong:"help='Path prefix the gateway is mounted under (overrides config).',env='MOUNT_PREFIX'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Gateway GatewayConfig `toml:"gateway"`
	Backend BackendConfig `toml:"backend"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath       string // resolved config file path (unexported)
	backendDefault bool   // base_url came from DefaultBackendURL
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// GatewayConfig controls where the gateway is mounted and where it reads the credential.
type GatewayConfig struct {
	MountPrefix   string `toml:"mount_prefix"`
	SessionCookie string `toml:"session_cookie"`
}

// BackendConfig holds backend connection settings.
type BackendConfig struct {
	BaseURL                      string `toml:"base_url"`
	ConnectTimeoutSeconds        int    `toml:"connect_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int    `toml:"response_header_timeout_seconds"`
	IdleConnections              int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/records-gateway/config.toml then configs/config.toml and falls back to
// defaults when neither exists.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
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
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.MountPrefix != "" {
		c.Gateway.MountPrefix = cli.MountPrefix
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url must include a host; got %q", c.Backend.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("backend.base_url must not carry a query or fragment; got %q", c.Backend.BaseURL)
	}

	p := c.Gateway.MountPrefix
	if p[0] != '/' {
		return fmt.Errorf("gateway.mount_prefix must start with '/'; got %q", p)
	}
	if p == "/" || strings.HasSuffix(p, "/") {
		return fmt.Errorf("gateway.mount_prefix must not be '/' or end with '/'; got %q", p)
	}
	for _, reserved := range []string{HealthzPath, StatusPath} {
		if overlaps(p, reserved) {
			return fmt.Errorf("gateway.mount_prefix %q conflicts with reserved route %q", p, reserved)
		}
	}
	if strings.ContainsAny(c.Gateway.SessionCookie, " \t;,=") {
		return fmt.Errorf("gateway.session_cookie is not a valid cookie name; got %q", c.Gateway.SessionCookie)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("backend.connect_timeout_seconds must be non-negative; got %d", c.Backend.ConnectTimeoutSeconds)
	}
	if c.Backend.ResponseHeaderTimeoutSeconds < 0 {
		return fmt.Errorf("backend.response_header_timeout_seconds must be non-negative; got %d", c.Backend.ResponseHeaderTimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range []string{p, HealthzPath, StatusPath} {
			if overlaps(mp, reserved) {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

// overlaps reports whether either path is equal to or nested under the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Gateway.MountPrefix == "" {
		c.Gateway.MountPrefix = "/api/proxy"
	}
	if c.Gateway.SessionCookie == "" {
		c.Gateway.SessionCookie = "token"
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
		c.backendDefault = true
	}
	if c.Backend.ConnectTimeoutSeconds == 0 {
		c.Backend.ConnectTimeoutSeconds = 10
	}
	if c.Backend.ResponseHeaderTimeoutSeconds == 0 {
		c.Backend.ResponseHeaderTimeoutSeconds = 30
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
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

// BackendConfigured reports whether the backend URL was set by the config
// file, a flag or BACKEND_URL rather than falling back to the default.
func (c *Config) BackendConfigured() bool {
	return c.Backend.BaseURL != "" && !c.backendDefault
}

// ConnectTimeout is the dial deadline for backend connections.
func (c *BackendConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ResponseHeaderTimeout bounds the wait for backend response headers.
func (c *BackendConfig) ResponseHeaderTimeout() time.Duration {
	return time.Duration(c.ResponseHeaderTimeoutSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
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
