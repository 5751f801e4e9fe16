// Package netx holds small HTTP networking helpers.
package netx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address a request came from. With trustProxy the
// left-most X-Forwarded-For entry, then X-Real-IP, wins over RemoteAddr;
// only enable it behind a proxy that overwrites those headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xr) != nil {
			return xr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
