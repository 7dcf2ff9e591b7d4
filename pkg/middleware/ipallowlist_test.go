package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPAllowlistRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []string
		ip      string
		allowed bool
	}{
		{"wildcard allows anything", []string{"*"}, "203.0.113.7", true},
		{"wildcard allows unknown", []string{"*"}, "unknown", true},
		{"localhost ipv4", []string{"localhost"}, "127.0.0.1", true},
		{"localhost ipv6", []string{"localhost"}, "::1", true},
		{"localhost rejects others", []string{"localhost"}, "192.168.1.1", false},
		{"exact ipv4 match", []string{"192.168.1.50"}, "192.168.1.50", true},
		{"exact ipv6 match", []string{"2001:db8::1"}, "2001:db8::1", true},
		{"cidr inside", []string{"192.168.1.0/24"}, "192.168.1.50", true},
		{"cidr outside", []string{"192.168.1.0/24"}, "192.168.2.1", false},
		{"unknown always rejected", []string{"192.168.1.0/24"}, "unknown", false},
		{"empty rules reject all", nil, "127.0.0.1", false},
		{"garbage rules dropped", []string{"not-an-ip", "300.1.2.3/99"}, "127.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			al := NewIPAllowlist("/admin", tt.rules)
			assert.Equal(t, tt.allowed, al.Allowed(tt.ip))
		})
	}
}

func TestIPAllowlistMiddlewareGatesPrefixOnly(t *testing.T) {
	al := NewIPAllowlist("/admin", []string{"192.168.1.0/24"})
	h := al.Middleware(okHandler())

	do := func(path, ip string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/admin/api/stats", "192.168.1.50"))
	assert.Equal(t, http.StatusForbidden, do("/admin/api/stats", "192.168.2.1"))
	// Outside the prefix the allowlist does not apply.
	assert.Equal(t, http.StatusOK, do("/api/packages", "192.168.2.1"))
}
