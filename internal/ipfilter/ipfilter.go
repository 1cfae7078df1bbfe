// Package ipfilter provides IP-based access control for HTTP listeners
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against a list of allowed networks
type Filter struct {
	allowed []netip.Prefix
	logger  *slog.Logger
}

// Parse converts IPs and CIDRs into prefixes. A single address becomes a /32
// or /128. Blank entries are ignored.
func Parse(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range entries {
		p, ok, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func parseEntry(entry string) (netip.Prefix, bool, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return netip.Prefix{}, false, nil
	}
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, false, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		return p.Masked(), true, nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false, fmt.Errorf("invalid IP %q: %w", entry, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), true, nil
}

// New creates a filter. Invalid entries are logged and skipped; an empty
// list allows every client.
func New(allowedIPs []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}
	for _, entry := range allowedIPs {
		p, ok, err := parseEntry(entry)
		if err != nil {
			logger.Warn("ignoring allowed_ips entry", "entry", entry, "error", err)
			continue
		}
		if ok {
			f.allowed = append(f.allowed, p)
		}
	}
	return f
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed reports whether ip falls in one of the allowed networks. An
// empty filter allows everything.
func (f *Filter) IsAllowed(ip netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	ip = ip.Unmap()
	for _, p := range f.allowed {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsRequest checks the client address of r
func (f *Filter) AllowsRequest(r *http.Request) bool {
	if !f.Enabled() {
		return true
	}
	ip, ok := ClientIP(r)
	if !ok {
		f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
		return false
	}
	if !f.IsAllowed(ip) {
		f.logger.Warn("access denied by IP filter", "ip", ip.String(), "path", r.URL.Path)
		return false
	}
	return true
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address
func ClientIP(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ip.Unmap(), true
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return ip.Unmap(), true
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// HTTPMiddleware rejects requests from clients outside the allowed networks
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.AllowsRequest(r) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
