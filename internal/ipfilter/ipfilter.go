// Package ipfilter restricts network endpoints to an allowlist of
// addresses or CIDR ranges. An empty allowlist allows everyone.
package ipfilter

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New builds a filter from IP and CIDR strings. Invalid entries are
// logged and skipped.
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", raw, "error", err)
				continue
			}
			f.prefixes = append(f.prefixes, prefix)
			continue
		}

		addr, err := netip.ParseAddr(raw)
		if err != nil {
			logger.Warn("invalid IP in allowed_ips", "ip", raw, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return f
}

// Enabled reports whether any prefixes are configured.
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Allowed reports whether addr passes the filter.
func (f *Filter) Allowed(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowedAddr parses addr ("host" or "host:port") and checks it.
func (f *Filter) AllowedAddr(addr string) bool {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return f.Allowed(ap.Addr())
	}
	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return f.Allowed(parsed)
}

// Middleware rejects requests from addresses outside the allowlist. It
// reads RemoteAddr, so chi's RealIP middleware must run first when the
// service sits behind a proxy.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if !f.AllowedAddr(r.RemoteAddr) {
			f.logger.Warn("access denied by IP filter", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
