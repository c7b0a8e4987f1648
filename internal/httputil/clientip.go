package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the client address for rate limiting and logs.
// Proxy headers win over RemoteAddr: the first parseable entry of
// X-Forwarded-For, then X-Real-IP. Unparseable header values are
// ignored rather than trusted.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			candidate := strings.TrimSpace(part)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
