package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"x-forwarded-for single", "192.0.2.1", "", "10.0.0.1:1234", "192.0.2.1"},
		{"x-forwarded-for chain takes first", "192.0.2.1, 10.0.0.2", "", "10.0.0.1:1234", "192.0.2.1"},
		{"x-real-ip fallback", "", "192.0.2.9", "10.0.0.1:1234", "192.0.2.9"},
		{"remote addr fallback", "", "", "10.0.0.1:1234", "10.0.0.1"},
		{"nothing known", "", "", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", BearerToken(r))

	r.Header.Set("Authorization", "Bearer repub_abc123")
	assert.Equal(t, "repub_abc123", BearerToken(r))

	r.Header.Set("Authorization", "bearer repub_abc123")
	assert.Equal(t, "repub_abc123", BearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", BearerToken(r))
}

func TestParseQueryIntClampsSilently(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=abc&limit=5", nil)
	assert.Equal(t, 1, ParseQueryInt(r, "page", 1))
	assert.Equal(t, 5, ParseQueryInt(r, "limit", 20))
	assert.Equal(t, 20, ParseQueryInt(r, "missing", 20))
}

func TestParseJSONOrError(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email": "a@b.c"}`))
	var dest struct {
		Email string `json:"email"`
	}
	assert.True(t, ParseJSONOrError(rec, r, &dest))
	assert.Equal(t, "a@b.c", dest.Email)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{bad`))
	assert.False(t, ParseJSONOrError(rec, r, &dest))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")
}
