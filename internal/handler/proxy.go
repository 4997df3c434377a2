package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"records-gateway/internal/config"
	"records-gateway/internal/metrics"
	"records-gateway/internal/model"
	"records-gateway/internal/service"
)

const copyBufferSize = 32 * 1024

// ProxyHandler forwards every call under the mount prefix to the backend.
type ProxyHandler struct {
	gateway       *service.Gateway
	logger        *slog.Logger
	metrics       *metrics.Metrics
	mountPrefix   string
	sessionCookie string

	// Aborted relays are mostly client disconnects; sample them.
	streamErrLog rate.Sometimes
}

// NewProxyHandler creates a ProxyHandler.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewProxyHandler(gw *service.Gateway, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		gateway:       gw,
		logger:        logger.With("component", "proxy_handler"),
		metrics:       m,
		mountPrefix:   cfg.Gateway.MountPrefix,
		sessionCookie: cfg.Gateway.SessionCookie,
		streamErrLog:  rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Handle forwards the request and streams the backend response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          h.pathSuffix(req.URL),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		Credential:    h.credential(c),
		RemoteAddr:    req.RemoteAddr,
		Host:          req.Host,
		Scheme:        c.Scheme(),
	}

	resp, err := h.gateway.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Backend values replace anything middleware may have set.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = append([]string(nil), vals...)
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already committed; a failure here can only truncate the body.
	if err := relay(c.Response(), resp.Body); err != nil {
		h.streamErrLog.Do(func() {
			h.logger.Warn("relaying response body",
				"err", err,
				"method", req.Method,
				"path", req.URL.Path,
			)
		})
	}

	return nil
}

// credential returns the session token from the caller's cookie, or "".
func (h *ProxyHandler) credential(c echo.Context) string {
	cookie, err := c.Cookie(h.sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// pathSuffix returns the escaped path after the mount prefix, minus the one
// slash that separates them.
func (h *ProxyHandler) pathSuffix(u *url.URL) string {
	if rest, ok := strings.CutPrefix(u.EscapedPath(), h.mountPrefix); ok {
		return strings.TrimPrefix(rest, "/")
	}
	// The prefix itself arrived percent-encoded; re-escape the decoded remainder.
	rest, _ := strings.CutPrefix(u.Path, h.mountPrefix)
	return strings.TrimPrefix((&url.URL{Path: rest}).EscapedPath(), "/")
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()

	// A body rejected by BodyLimit keeps its own status (413).
	var he *echo.HTTPError
	if errors.As(err, &he) {
		h.logger.Info("request body rejected",
			"status", he.Code,
			"method", req.Method,
			"path", req.URL.Path,
		)
		return he
	}

	kind := service.KindOf(err)

	if h.metrics != nil {
		h.metrics.ForwardFailures.WithLabelValues(kind.String()).Inc()
	}

	if kind == service.KindClientDisconnect {
		h.logger.Info("client disconnected before upstream responded",
			"method", req.Method,
			"path", req.URL.Path,
		)
		// Nothing is written; the status is only recorded for logs and metrics.
		c.Response().Status = kind.Status()
		return nil
	}

	h.logger.Error("proxy error",
		"err", err,
		"kind", kind.String(),
		"method", req.Method,
		"path", req.URL.Path,
	)
	return c.JSON(kind.Status(), map[string]string{
		"error": kind.Message(),
	})
}

// relay copies src to w, flushing after every write so streamed responses
// reach the client as they arrive.
func relay(w io.Writer, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}
