package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[gateway]
mount_prefix = "/api/backend"
session_cookie = "access_token"

[backend]
base_url = "http://backend:8080"
connect_timeout_seconds = 5
response_header_timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Gateway.MountPrefix != "/api/backend" {
		t.Errorf("Gateway.MountPrefix = %q, want %q", cfg.Gateway.MountPrefix, "/api/backend")
	}
	if cfg.Gateway.SessionCookie != "access_token" {
		t.Errorf("Gateway.SessionCookie = %q, want %q", cfg.Gateway.SessionCookie, "access_token")
	}
	if cfg.Backend.BaseURL != "http://backend:8080" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://backend:8080")
	}
	if !cfg.BackendConfigured() {
		t.Error("BackendConfigured() = false for an explicit backend, want true")
	}
	if got := cfg.Backend.ConnectTimeout(); got != 5*time.Second {
		t.Errorf("Backend.ConnectTimeout() = %v, want %v", got, 5*time.Second)
	}
	if got := cfg.Backend.ResponseHeaderTimeout(); got != time.Minute {
		t.Errorf("Backend.ResponseHeaderTimeout() = %v, want %v", got, time.Minute)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Gateway.MountPrefix != "/api/proxy" {
		t.Errorf("default Gateway.MountPrefix = %q, want %q", cfg.Gateway.MountPrefix, "/api/proxy")
	}
	if cfg.Gateway.SessionCookie != "token" {
		t.Errorf("default Gateway.SessionCookie = %q, want %q", cfg.Gateway.SessionCookie, "token")
	}
	if cfg.Backend.BaseURL != DefaultBackendURL {
		t.Errorf("default Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, DefaultBackendURL)
	}
	if cfg.BackendConfigured() {
		t.Error("BackendConfigured() = true for the default backend, want false")
	}
	if cfg.Backend.ConnectTimeoutSeconds != 10 {
		t.Errorf("default Backend.ConnectTimeoutSeconds = %d, want %d", cfg.Backend.ConnectTimeoutSeconds, 10)
	}
	if cfg.Backend.ResponseHeaderTimeoutSeconds != 30 {
		t.Errorf("default Backend.ResponseHeaderTimeoutSeconds = %d, want %d", cfg.Backend.ResponseHeaderTimeoutSeconds, 30)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(&CLI{BackendURL: "http://backend:8080"})
	if err != nil {
		t.Fatalf("Load() error = %v; a missing config file should fall back to defaults", err)
	}
	if cfg.Backend.BaseURL != "http://backend:8080" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://backend:8080")
	}
	if !cfg.BackendConfigured() {
		t.Error("BackendConfigured() = false for an explicit backend, want true")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[backend\nbase_url = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 3000

[gateway]
mount_prefix = "/api/proxy"

[backend]
base_url = "http://toml-backend:8080"

[log]
level = "info"
`)

	cli := &CLI{
		Config:      path,
		Host:        "127.0.0.1",
		Port:        4000,
		BackendURL:  "https://cli-backend.internal",
		MountPrefix: "/bff",
		LogLevel:    "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 4000)
	}
	if cfg.Backend.BaseURL != "https://cli-backend.internal" {
		t.Errorf("Backend.BaseURL = %q, want %q (CLI override)", cfg.Backend.BaseURL, "https://cli-backend.internal")
	}
	if cfg.Gateway.MountPrefix != "/bff" {
		t.Errorf("Gateway.MountPrefix = %q, want %q (CLI override)", cfg.Gateway.MountPrefix, "/bff")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"backend scheme", "[backend]\nbase_url = \"ftp://backend\"\n", "http or https"},
		{"backend relative", "[backend]\nbase_url = \"/backend\"\n", "base_url"},
		{"backend query", "[backend]\nbase_url = \"http://backend:8080/?x=1\"\n", "query"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative connect timeout", "[backend]\nconnect_timeout_seconds = -5\n", "connect_timeout_seconds"},
		{"negative header timeout", "[backend]\nresponse_header_timeout_seconds = -5\n", "response_header_timeout_seconds"},
		{"negative idle connections", "[backend]\nidle_connections = -1\n", "idle_connections"},
		{"prefix without slash", "[gateway]\nmount_prefix = \"api\"\n", "mount_prefix"},
		{"root prefix", "[gateway]\nmount_prefix = \"/\"\n", "mount_prefix"},
		{"trailing slash prefix", "[gateway]\nmount_prefix = \"/api/\"\n", "mount_prefix"},
		{"prefix over healthz", "[gateway]\nmount_prefix = \"/healthz\"\n", "conflicts"},
		{"prefix above status", "[gateway]\nmount_prefix = \"/gateway\"\n", "conflicts"},
		{"bad cookie name", "[gateway]\nsession_cookie = \"a;b\"\n", "session_cookie"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoutes(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"mount prefix exact", "/api/proxy"},
		{"under mount prefix", "/api/proxy/metrics"},
		{"parent of mount prefix", "/api"},
		{"healthz", "/healthz"},
		{"gateway status", "/gateway/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[backend]\nbase_url = \"http://backend:8080\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{path2}, path2},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
		{"first match wins", []string{"/nonexistent/a.toml", path1, path2}, path1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
