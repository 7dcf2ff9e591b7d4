package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the knobs most deployments leave alone.
const (
	DefaultPort           = "4000"
	DefaultUpstreamURL    = "https://pub.dev"
	DefaultMaxUploadBytes = 100 << 20 // 100 MiB
	DefaultDatabaseURL    = "sqlite://repub.db"
	DefaultStoragePath    = "./storage"
)

// Config holds all server configuration.
type Config struct {
	// Server.
	ListenAddr      string
	ListenPort      string
	BaseURL         string
	ShutdownTimeout time.Duration

	// Build identity, surfaced via /api/version and X-Repub-* headers.
	Version string
	GitHash string

	// Metadata store. Scheme selects the backend: sqlite:// (or a bare
	// path) or postgres://.
	DatabaseURL string
	// Optional redis read-cache in front of the postgres backend.
	RedisURL string

	// Blob storage. StoragePath selects the filesystem backend; the S3
	// fields select the object-store backend when Bucket is set.
	StoragePath    string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Policy.
	RequirePublishAuth  bool
	RequireDownloadAuth bool
	MaxUploadSizeBytes  int64
	SignedURLTTL        time.Duration

	// Upstream proxy.
	UpstreamURL         string
	EnableUpstreamProxy bool

	// Rate limiting. A non-positive request count disables the limiter.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Comma-separated allowlist rules guarding the /admin prefix.
	// Empty means localhost only.
	AdminIPWhitelist []string

	// CORS origins, comma-separated or "*".
	CORSAllowedOrigins []string

	// Static UI roots; empty disables the mount.
	WebDir   string
	AdminDir string

	// Observability.
	LogLevel  string
	LogFormat string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("REPUB_LISTEN_ADDR", "0.0.0.0"),
		ListenPort:      getEnv("REPUB_LISTEN_PORT", DefaultPort),
		BaseURL:         strings.TrimRight(getEnv("REPUB_BASE_URL", ""), "/"),
		ShutdownTimeout: getEnvDuration("REPUB_SHUTDOWN_TIMEOUT", 30*time.Second),

		Version: getEnv("REPUB_VERSION", "dev"),
		GitHash: getEnv("REPUB_GIT_HASH", ""),

		DatabaseURL: getEnv("REPUB_DATABASE_URL", DefaultDatabaseURL),
		RedisURL:    getEnv("REPUB_REDIS_URL", ""),

		StoragePath:    getEnv("REPUB_STORAGE_PATH", DefaultStoragePath),
		S3Endpoint:     getEnv("REPUB_S3_ENDPOINT", ""),
		S3Region:       getEnv("REPUB_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("REPUB_S3_BUCKET", ""),
		S3AccessKey:    getEnv("REPUB_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("REPUB_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("REPUB_S3_USE_PATH_STYLE", true),

		RequirePublishAuth:  getEnvBool("REPUB_REQUIRE_PUBLISH_AUTH", false),
		RequireDownloadAuth: getEnvBool("REPUB_REQUIRE_DOWNLOAD_AUTH", false),
		MaxUploadSizeBytes:  getEnvInt64("REPUB_MAX_UPLOAD_SIZE_BYTES", DefaultMaxUploadBytes),
		SignedURLTTL:        time.Duration(getEnvInt("REPUB_SIGNED_URL_TTL_SECONDS", 3600)) * time.Second,

		UpstreamURL:         strings.TrimRight(getEnv("REPUB_UPSTREAM_URL", DefaultUpstreamURL), "/"),
		EnableUpstreamProxy: getEnvBool("REPUB_ENABLE_UPSTREAM_PROXY", true),

		RateLimitRequests: getEnvInt("REPUB_RATE_LIMIT_REQUESTS", 0),
		RateLimitWindow:   time.Duration(getEnvInt("REPUB_RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		AdminIPWhitelist:   splitList(getEnv("REPUB_ADMIN_IP_WHITELIST", "localhost")),
		CORSAllowedOrigins: splitList(getEnv("REPUB_CORS_ALLOWED_ORIGINS", "")),

		WebDir:   getEnv("REPUB_WEB_DIR", ""),
		AdminDir: getEnv("REPUB_ADMIN_DIR", ""),

		LogLevel:  getEnv("REPUB_LOG_LEVEL", "info"),
		LogFormat: getEnv("REPUB_LOG_FORMAT", "text"),

		OTelEnabled:  getEnvBool("REPUB_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("REPUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelInsecure: getEnvBool("REPUB_OTEL_INSECURE", true),
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.ListenPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.ListenPort == "" {
		return fmt.Errorf("listen port is required")
	}
	if _, err := strconv.Atoi(c.ListenPort); err != nil {
		return fmt.Errorf("invalid listen port %q", c.ListenPort)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.S3Bucket == "" && c.StoragePath == "" {
		return fmt.Errorf("either a storage path or an S3 bucket is required")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("S3 region is required when an S3 bucket is set")
	}
	if c.MaxUploadSizeBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.EnableUpstreamProxy {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid upstream URL %q", c.UpstreamURL)
		}
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	return nil
}

// ListenHostPort returns the address the HTTP server binds.
func (c *Config) ListenHostPort() string {
	return c.ListenAddr + ":" + c.ListenPort
}

// UseS3 reports whether blob storage goes to the object store.
func (c *Config) UseS3() bool {
	return c.S3Bucket != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
