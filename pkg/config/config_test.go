package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.ListenAddr)
	assert.Equal(t, DefaultPort, cfg.ListenPort)
	assert.Equal(t, "http://localhost:"+DefaultPort, cfg.BaseURL)
	assert.Equal(t, DefaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadSizeBytes)
	assert.Equal(t, DefaultUpstreamURL, cfg.UpstreamURL)
	assert.True(t, cfg.EnableUpstreamProxy)
	assert.False(t, cfg.UseS3())
	assert.Equal(t, []string{"localhost"}, cfg.AdminIPWhitelist)
	assert.Equal(t, 0, cfg.RateLimitRequests) // disabled by default
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REPUB_LISTEN_PORT", "8080")
	t.Setenv("REPUB_BASE_URL", "https://pub.example.com/")
	t.Setenv("REPUB_DATABASE_URL", "postgres://repub:pw@db/repub")
	t.Setenv("REPUB_S3_BUCKET", "repub-archives")
	t.Setenv("REPUB_REQUIRE_PUBLISH_AUTH", "true")
	t.Setenv("REPUB_RATE_LIMIT_REQUESTS", "100")
	t.Setenv("REPUB_RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("REPUB_ADMIN_IP_WHITELIST", "192.168.1.0/24, 10.0.0.5")
	t.Setenv("REPUB_CORS_ALLOWED_ORIGINS", "*")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ListenHostPort())
	assert.Equal(t, "https://pub.example.com", cfg.BaseURL)
	assert.True(t, cfg.UseS3())
	assert.True(t, cfg.RequirePublishAuth)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"192.168.1.0/24", "10.0.0.5"}, cfg.AdminIPWhitelist)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.ListenPort = "not-a-port" }},
		{"no database", func(c *Config) { c.DatabaseURL = "" }},
		{"no blob backend", func(c *Config) { c.StoragePath, c.S3Bucket = "", "" }},
		{"zero upload cap", func(c *Config) { c.MaxUploadSizeBytes = 0 }},
		{"bad upstream", func(c *Config) { c.EnableUpstreamProxy, c.UpstreamURL = true, "ftp://pub.dev" }},
		{"zero window with limit", func(c *Config) { c.RateLimitRequests, c.RateLimitWindow = 5, 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
