package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller's IP address. Proxy headers are honored only
// when trustProxy is set; otherwise the direct connection address wins, which
// prevents spoofed X-Forwarded-For values from bypassing per-IP limits.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			// The last entry is the one appended by the trusted proxy.
			ip := strings.TrimSpace(parts[len(parts)-1])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if net.ParseIP(xrip) != nil {
				return xrip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
