package middleware

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"records-gateway/internal/config"
	"records-gateway/internal/metrics"
)

// Use installs the gateway's middleware chain on e. Middleware that writes
// response headers skips the forwarding routes, whose headers belong to the
// backend.
func Use(e *echo.Echo, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) {
	forwarded := ForwardedRoute(cfg.Gateway.MountPrefix)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Skipper:   forwarded,
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger(logger))
	if cfg.Metrics.Enabled && m != nil {
		e.Use(MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(SecurityHeaders(forwarded))
}

// ForwardedRoute returns a skipper matching the routes registered under the
// mount prefix. It relies on the router having already matched the request.
func ForwardedRoute(prefix string) echomw.Skipper {
	return func(c echo.Context) bool {
		p := c.Path()
		return p == prefix || p == prefix+"/*"
	}
}
