// Package realip resolves the client address of a request, honoring
// X-Forwarded-For only when the peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP parsing.
	TrustProxy bool
	// TrustedProxies lists proxy networks in CIDR notation or as bare IPs.
	TrustedProxies []string
}

// Resolver determines client addresses for one proxy configuration.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// NewResolver parses cfg. Entries that are neither a prefix nor an address
// are ignored.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{trustProxy: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return r
	}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			r.trusted = append(r.trusted, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			r.trusted = append(r.trusted, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return r
}

// ClientIP returns the address of the originating client.
func (res *Resolver) ClientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !res.trustProxy || !res.isTrusted(remote) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return remote
	}

	// Walk right to left; the first untrusted hop is the client.
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.isTrusted(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware stores the resolved client IP in the request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	res := NewResolver(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKey{}, res.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the IP stored by Middleware, falling back to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
