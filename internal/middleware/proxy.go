package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies configures how c.RealIP() resolves the client address.
// Forwarding headers are honored only when the direct peer is inside one of
// trustedCIDRs. The login limiter, trusted-device fingerprints and the
// security log all key on this address, so a spoofed header from an
// untrusted peer must never be believed.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(parseCIDRs(trustedCIDRs))
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		nets = append(nets, network)
	}
	return nets
}

// buildIPExtractor walks X-Forwarded-For from the right, skipping hops that
// are themselves trusted proxies, and returns the first untrusted address.
// X-Real-IP is used when no X-Forwarded-For is present.
func buildIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	return func(req *http.Request) string {
		peer := hostOnly(req.RemoteAddr)
		if !isTrusted(peer, trusted) {
			return peer
		}

		if xff := req.Header.Get(echo.HeaderXForwardedFor); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if net.ParseIP(hop) == nil {
					break
				}
				if !isTrusted(hop, trusted) || i == 0 {
					return hop
				}
			}
		}

		if realIP := strings.TrimSpace(req.Header.Get(echo.HeaderXRealIP)); net.ParseIP(realIP) != nil {
			return realIP
		}
		return peer
	}
}

func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
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
