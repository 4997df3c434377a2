package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind classifies a failure of the forwarding mechanism itself. Responses
// produced by the backend, whatever their status, are never errors.
type Kind int

const (
	// KindInternal is a fault while constructing or relaying the request.
	KindInternal Kind = iota
	// KindUpstreamUnreachable covers refused or reset connections and DNS failures.
	KindUpstreamUnreachable
	// KindUpstreamTimeout means the backend missed the connect or response-header deadline.
	KindUpstreamTimeout
	// KindClientDisconnect means the inbound client went away first.
	KindClientDisconnect
)

// StatusClientClosedRequest is recorded for client disconnects. It is never
// written to a client.
const StatusClientClosedRequest = 499

var kindInfo = map[Kind]struct {
	name    string
	status  int
	message string
}{
	KindInternal:            {"internal", http.StatusInternalServerError, "internal gateway error"},
	KindUpstreamUnreachable: {"upstream_unreachable", http.StatusBadGateway, "upstream service unreachable"},
	KindUpstreamTimeout:     {"upstream_timeout", http.StatusGatewayTimeout, "upstream service timed out"},
	KindClientDisconnect:    {"client_disconnect", StatusClientClosedRequest, "client disconnected"},
}

// String returns the metrics/log label of the kind.
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status is the HTTP status the kind maps to.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Message is the generic client-facing message for the kind. It never
// carries backend addresses or error details.
func (k Kind) Message() string {
	if info, ok := kindInfo[k]; ok {
		return info.message
	}
	return kindInfo[KindInternal].message
}

// ForwardError is returned by Gateway.Forward when the request could not be relayed.
type ForwardError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As checks.
func (e *ForwardError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, or KindInternal when err is not a
// ForwardError.
func KindOf(err error) Kind {
	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// classifyUpstream maps an error from the backend round trip to a kind.
// ctx is the inbound request context.
func classifyUpstream(ctx context.Context, err error) Kind {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return KindClientDisconnect
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUpstreamTimeout
	}
	return KindUpstreamUnreachable
}

// classifyInbound maps a failure reading the caller's request body. A broken
// or closed client connection is a disconnect; anything else, such as a body
// rejected by a size limit, is internal to the gateway.
func classifyInbound(ctx context.Context, err error) Kind {
	if ctx.Err() != nil || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return KindClientDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindClientDisconnect
	}
	return KindInternal
}
