package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RealIP rewrites RemoteAddr from True-Client-IP, X-Real-IP or
// X-Forwarded-For, but only when the connecting peer is one of the trusted
// proxies. Requests arriving directly keep their socket address, so a caller
// cannot pick its own source address by sending a header.
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 {
				if peer, ok := parseAddr(r.RemoteAddr); ok && inPrefixes(trusted, peer) {
					if ip, ok := forwardedIP(r, trusted); ok {
						r.RemoteAddr = ip.String()
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedIP(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	for _, h := range []string{"True-Client-IP", "X-Real-IP"} {
		if ip, ok := parseAddr(r.Header.Get(h)); ok {
			return ip, true
		}
	}

	// The right-most hop not added by one of our proxies is the client.
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	var first netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		first = ip
		if !inPrefixes(trusted, ip) {
			return ip, true
		}
	}
	return first, first.IsValid()
}

func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func inPrefixes(prefixes []netip.Prefix, ip netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
