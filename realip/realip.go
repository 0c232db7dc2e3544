// Package realip extracts the client address used for logging, bans and limits.
//
// When the daemon runs behind a trusted reverse proxy, chi's RealIP middleware rewrites
// RemoteAddr before any of this runs, so only RemoteAddr is consulted here.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when no address can be recovered.
const Unknown = "unknown"

// FromRequest returns the host part of r.RemoteAddr.
func FromRequest(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return Unknown
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// no port, e.g. after RealIP rewrote it
		return addr
	}
	if host == "" {
		return Unknown
	}
	return host
}
