// Package model defines the request-scoped types passed through the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound call to be forwarded to the backend.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped path after the mount prefix and the single slash
	// that separates them. Further slashes are kept. Empty means the backend
	// root.
	Path string
	// RawQuery is forwarded verbatim, without the leading '?'.
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	// Credential is the caller's session token; empty when the caller has none.
	Credential string

	// Client-facing connection details, used for X-Forwarded-* headers.
	RemoteAddr string
	Host       string
	Scheme     string
}

// ProxyResponse represents the backend response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
