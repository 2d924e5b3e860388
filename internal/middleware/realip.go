package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// RealIPMiddleware resolves the address a subscriber connects from. Forwarding
// headers are only honoured when the peer is a configured trusted proxy, and
// every candidate must parse as an IP. The result is canonical (IPv4-mapped
// IPv6 collapses to IPv4, IPv6 is lower-cased and compressed) so one client
// always maps to one address key.
type RealIPMiddleware struct {
	trustedNets []*net.IPNet
	trustedIPs  []net.IP
}

// NewRealIPMiddleware creates a RealIPMiddleware with the given trusted proxies.
// trustedProxies can be IP addresses (e.g., "192.168.1.1") or CIDRs (e.g., "10.0.0.0/8").
// Entries that parse as neither are ignored.
func NewRealIPMiddleware(trustedProxies []string) *RealIPMiddleware {
	m := &RealIPMiddleware{}

	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(proxy); err == nil {
			m.trustedNets = append(m.trustedNets, network)
			continue
		}
		if ip := net.ParseIP(proxy); ip != nil {
			m.trustedIPs = append(m.trustedIPs, ip)
		}
	}

	return m
}

// Handler stores the resolved address in the request context. X-Real-IP is
// overwritten with the same value so downstream logs and proxies agree.
func (m *RealIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.resolve(r)
		if ip != "" {
			r.Header.Set("X-Real-IP", ip)
		} else {
			r.Header.Del("X-Real-IP")
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
	})
}

// ClientIP returns the address resolved by RealIPMiddleware. Without the
// middleware it falls back to the canonical peer address; request headers are
// never consulted.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	return peerIP(r.RemoteAddr)
}

func (m *RealIPMiddleware) resolve(r *http.Request) string {
	remote := peerIP(r.RemoteAddr)
	if !m.isTrustedProxy(remote) {
		return remote
	}

	// Cloudflare's header takes priority when it holds a real address.
	if ip := canonicalIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}

	// Walk X-Forwarded-For from the nearest hop outward. The first address
	// that is not one of our proxies is the client; garbage entries are skipped.
	client := ""
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := canonicalIP(hops[i])
		if ip == "" {
			continue
		}
		client = ip
		if !m.isTrustedProxy(ip) {
			break
		}
	}
	if client != "" {
		return client
	}
	return remote
}

// isTrustedProxy checks if the given IP is in the trusted proxy list
func (m *RealIPMiddleware) isTrustedProxy(ipStr string) bool {
	if len(m.trustedNets) == 0 && len(m.trustedIPs) == 0 {
		return false
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, network := range m.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range m.trustedIPs {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// canonicalIP returns the canonical text form of s, or "" when s is not an IP.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

// peerIP extracts the canonical IP from a RemoteAddr. Unparseable peers (unix
// sockets, test doubles) are returned as-is so they still get a stable key.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := canonicalIP(host); ip != "" {
		return ip
	}
	return remoteAddr
}
