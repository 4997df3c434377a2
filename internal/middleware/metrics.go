package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"records-gateway/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that counts inbound requests,
// observes their latency and tracks how many are in flight.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			start := time.Now()

			err := next(c)

			elapsed := time.Since(start)
			m.RequestsInFlight.Dec()

			labels := prometheus.Labels{
				"method":      metrics.NormalizeMethod(c.Request().Method),
				"status_code": strconv.Itoa(finalStatus(c, err)),
				"path_prefix": m.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.With(labels).Inc()
			m.RequestDuration.With(labels).Observe(elapsed.Seconds())

			return err
		}
	}
}

// finalStatus returns the status the client ends up with. A returned error is
// written later by echo's error handler: an *echo.HTTPError with its own code,
// anything else as 500 unless the response is already committed.
func finalStatus(c echo.Context, err error) int {
	res := c.Response()
	if err == nil || res.Committed {
		return res.Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
