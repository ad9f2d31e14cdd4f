package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the identifier the rate limiter keys on: the host part of
// the request's remote address. When the server trusts proxy headers, chi's
// RealIP middleware has already rewritten RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// RealIP stores a bare IP without port
		return addr
	}
	return host
}
