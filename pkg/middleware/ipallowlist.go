package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/repub/pkg/httputil"
)

// IPAllowlist gates a URL path prefix behind a set of client-IP rules.
// Rules are parsed once at construction: "*" (allow everyone),
// "localhost" (127.0.0.1 and ::1), IPv4/IPv6 literals, and IPv4 CIDR
// blocks. Requests outside the prefix pass through untouched.
type IPAllowlist struct {
	prefix   string
	allowAll bool
	exact    map[string]struct{}
	cidrs    []*net.IPNet
}

// NewIPAllowlist parses rules for the given path prefix. Unparseable
// rules are dropped silently; an empty rule set rejects everything
// under the prefix.
func NewIPAllowlist(prefix string, rules []string) *IPAllowlist {
	al := &IPAllowlist{
		prefix: prefix,
		exact:  make(map[string]struct{}),
	}
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		switch {
		case rule == "":
		case rule == "*":
			al.allowAll = true
		case rule == "localhost":
			al.exact["127.0.0.1"] = struct{}{}
			al.exact["::1"] = struct{}{}
		case strings.Contains(rule, "/"):
			if _, ipnet, err := net.ParseCIDR(rule); err == nil {
				al.cidrs = append(al.cidrs, ipnet)
			}
		default:
			if ip := net.ParseIP(rule); ip != nil {
				al.exact[ip.String()] = struct{}{}
			}
		}
	}
	return al
}

// Allowed reports whether clientIP passes the rules. The "unknown"
// sentinel from ClientIP only passes under a "*" rule.
func (al *IPAllowlist) Allowed(clientIP string) bool {
	if al.allowAll {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	if _, ok := al.exact[ip.String()]; ok {
		return true
	}
	for _, cidr := range al.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests under the prefix from addresses outside
// the allowlist with a 403.
func (al *IPAllowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, al.prefix) {
			next.ServeHTTP(w, r)
			return
		}
		if !al.Allowed(httputil.ClientIP(r)) {
			httputil.WriteError(w, http.StatusForbidden, httputil.CodeAuthForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}
