// Package service implements the core forwarding logic of the gateway.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"records-gateway/internal/client"
	"records-gateway/internal/config"
	"records-gateway/internal/model"
)

// Gateway forwards requests to the single configured backend origin and
// injects the caller's session credential as a bearer token.
type Gateway struct {
	client        *client.BackendClient
	logger        *slog.Logger
	baseURL       *url.URL
	sessionCookie string
}

// NewGateway creates a Gateway for the configured backend.
func NewGateway(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend base_url %q has no host", cfg.Backend.BaseURL)
	}

	return &Gateway{
		client:        c,
		logger:        logger.With("component", "gateway"),
		baseURL:       u,
		sessionCookie: cfg.Gateway.SessionCookie,
	}, nil
}

// Forward sends pr to the backend and returns its response, whatever the
// status. Redirects are returned as-is. The caller is responsible for
// closing the response body.
//
// Errors are always *ForwardError; use KindOf to classify them.
func (g *Gateway) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := g.targetURL(pr.Path, pr.RawQuery)
	if err != nil {
		return nil, &ForwardError{Kind: KindInternal, Op: "build target url", Err: err}
	}

	header := requestPolicy(pr.Credential).Apply(pr.Header)
	stripCookie(header, g.sessionCookie)
	setForwardedHeaders(header, pr.RemoteAddr, pr.Host, pr.Scheme)

	var body io.ReadCloser = http.NoBody
	var inbound *inboundBody
	var contentLength int64
	if carriesBody(pr.Method) && pr.Body != nil && pr.Body != http.NoBody {
		inbound = &inboundBody{ReadCloser: pr.Body}
		body = inbound
		contentLength = pr.ContentLength
	}

	g.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"authenticated", pr.Credential != "",
	)

	resp, err := g.client.DoStream(pr.Ctx, pr.Method, target, header, body, contentLength)
	if err != nil {
		if errors.Is(err, client.ErrBuildRequest) {
			return nil, &ForwardError{Kind: KindInternal, Op: "build upstream request", Err: err}
		}
		// The transport reports inbound body failures as round-trip errors.
		if rerr := inbound.readErr(); rerr != nil {
			return nil, &ForwardError{Kind: classifyInbound(pr.Ctx, rerr), Op: "read request body", Err: rerr}
		}
		return nil, &ForwardError{Kind: classifyUpstream(pr.Ctx, err), Op: "forward to upstream", Err: err}
	}

	resp.Header = ResponsePolicy.Apply(resp.Header)
	return resp, nil
}

// targetURL joins the backend base, the escaped path suffix and the raw
// query without decoding or re-encoding either. The suffix is used as is, so
// repeated slashes survive.
func (g *Gateway) targetURL(suffix, rawQuery string) (string, error) {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(g.baseURL.String(), "/"))
	b.WriteByte('/')
	b.WriteString(suffix)
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}

	target := b.String()
	// Parsing here rejects a suffix that cannot form a valid request URI.
	if _, err := url.Parse(target); err != nil {
		return "", err
	}
	return target, nil
}

// carriesBody reports whether requests with method forward a body.
func carriesBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// inboundBody remembers the first error from reading the caller's body, so a
// failed upload is not mistaken for a backend failure. The transport reads it
// from its own goroutine.
type inboundBody struct {
	io.ReadCloser

	mu  sync.Mutex
	err error
}

func (b *inboundBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return n, err
}

// readErr returns the recorded read error. It is nil-safe for requests
// without a body.
func (b *inboundBody) readErr() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
