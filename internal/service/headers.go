package service

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHopHeaders describe a single connection and are never relayed in
// either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HeaderPolicy is a deterministic rewrite of a header set: every name in
// Deny is removed (together with anything the Connection header nominates),
// then every entry in Override is set, replacing inbound values.
type HeaderPolicy struct {
	Deny     []string
	Override http.Header
}

// Apply returns a rewritten copy of src. src is not modified.
func (p HeaderPolicy) Apply(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}

	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, name := range p.Deny {
		dst.Del(name)
	}
	for name, vals := range p.Override {
		dst[http.CanonicalHeaderKey(name)] = append([]string(nil), vals...)
	}
	return dst
}

// requestDeny lists headers never copied from the client to the backend.
// Host is replaced by the backend's own host; Accept-Encoding is left to
// the outbound transport so the relayed body arrives decoded; Authorization
// is only ever set from the session credential.
var requestDeny = append([]string{
	"Host",
	"Accept-Encoding",
	"Authorization",
}, hopByHopHeaders...)

// responseDeny lists headers never copied from the backend to the client.
// The body is relayed decoded, so its original Content-Encoding no longer applies.
var responseDeny = append([]string{
	"Content-Encoding",
}, hopByHopHeaders...)

// requestPolicy builds the outbound header policy for one request.
func requestPolicy(credential string) HeaderPolicy {
	p := HeaderPolicy{Deny: requestDeny}
	if credential != "" {
		p.Override = http.Header{"Authorization": {"Bearer " + credential}}
	}
	return p
}

// ResponsePolicy is the header policy applied to every backend response.
var ResponsePolicy = HeaderPolicy{Deny: responseDeny}

// stripCookie removes the named cookie from every Cookie header in h,
// dropping the header entirely when nothing else remains.
func stripCookie(h http.Header, name string) {
	vals := h.Values("Cookie")
	if len(vals) == 0 || name == "" {
		return
	}

	kept := make([]string, 0, len(vals))
	for _, line := range vals {
		var parts []string
		for _, pair := range strings.Split(line, ";") {
			pair = textproto.TrimString(pair)
			if pair == "" {
				continue
			}
			k, _, _ := strings.Cut(pair, "=")
			if textproto.TrimString(k) == name {
				continue
			}
			parts = append(parts, pair)
		}
		if len(parts) > 0 {
			kept = append(kept, strings.Join(parts, "; "))
		}
	}

	if len(kept) == 0 {
		h.Del("Cookie")
		return
	}
	h["Cookie"] = kept
}

// setForwardedHeaders records the client-facing connection for the backend.
func setForwardedHeaders(h http.Header, remoteAddr, host, scheme string) {
	if clientIP, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if prior := strings.Join(h.Values("X-Forwarded-For"), ", "); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if h.Get("X-Forwarded-Proto") == "" && scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	}
	if host != "" {
		h.Set("X-Forwarded-Host", host)
	}
}
