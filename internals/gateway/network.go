package gateway

import (
	"net"
	"net/http"
	"strings"
)

// NormalizeIP trims IPv4-mapped IPv6 prefixes and maps the IPv6 loopback
// onto 127.0.0.1 so local clients cluster together.
func NormalizeIP(address string) string {
	normalized := strings.TrimSpace(address)
	if normalized == "" {
		return ""
	}
	normalized = strings.TrimPrefix(normalized, "::ffff:")
	if normalized == "::1" {
		return "127.0.0.1"
	}
	return normalized
}

// DeriveNetworkKey reduces an address to a coarse network identifier: the
// /24 for IPv4, the first three segments for IPv6. Clients behind the same
// NAT share a key and are spawned near each other.
func DeriveNetworkKey(ipAddress string) string {
	if ipAddress == "" {
		return "unknown"
	}
	if strings.Contains(ipAddress, ":") {
		var segments []string
		for _, segment := range strings.Split(ipAddress, ":") {
			if segment != "" {
				segments = append(segments, segment)
			}
		}
		if len(segments) > 3 {
			segments = segments[:3]
		}
		if key := strings.Join(segments, ":"); key != "" {
			return key
		}
		return ipAddress
	}
	parts := strings.Split(ipAddress, ".")
	if len(parts) >= 3 {
		return strings.Join(parts[:3], ".")
	}
	return ipAddress
}

// ClientNetworkKey resolves the caller's coarse network key, preferring the
// first x-forwarded-for hop over the socket address.
func ClientNetworkKey(r *http.Request) string {
	var candidate string
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		candidate = NormalizeIP(strings.Split(forwarded, ",")[0])
	}
	if candidate == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		candidate = NormalizeIP(host)
	}
	return DeriveNetworkKey(candidate)
}

// ExtractSessionID pulls the optional resume token from the connection
// request.
func ExtractSessionID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("sessionId"))
}
