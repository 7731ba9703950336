package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the throttling key of a request.
type KeyFunc func(r *http.Request) string

// ParseTrustedProxies parses the CIDRs of reverse proxies allowed to name the client.
func ParseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: trusted proxy %q: %w", cidr, err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

// ClientIP keys requests by peer address. X-Real-IP and then the first
// X-Forwarded-For hop are honoured only when the peer is a trusted proxy.
func ClientIP(trusted []*net.IPNet) KeyFunc {
	return func(r *http.Request) string {
		peer := peerIP(r.RemoteAddr)
		if !isTrusted(peer, trusted) {
			return peer
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		return peer
	}
}

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrusted(addr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests over the limit by calling deny. Limiter errors
// fail open so an unavailable store never locks users out.
func Middleware(l Limiter, scope string, key KeyFunc, deny http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), scope+":"+key(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", slog.String("scope", scope), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
