package storage

import "time"

// AnonymousUserID is the id of the sentinel user that owns packages
// published without authentication while the server runs in open mode.
// The row is seeded by the migrations and can never be deleted.
const AnonymousUserID int64 = 1

// AnonymousUserEmail is the email address of the sentinel user.
const AnonymousUserEmail = "anonymous@localhost"

// Package is a named unit of distributable code. A package either
// originates here (hosted) or mirrors an upstream registry (cached);
// the two populations never mix in one row.
type Package struct {
	Name            string    `json:"name"`
	OwnerID         int64     `json:"owner_id"`
	IsUpstreamCache bool      `json:"is_upstream_cache"`
	IsDiscontinued  bool      `json:"isDiscontinued"`
	ReplacedBy      string    `json:"replacedBy,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PackageVersion is one immutable release of a package. The JSON keys
// follow the hosted package API, so the struct marshals directly into
// version listings.
type PackageVersion struct {
	PackageName   string                 `json:"-"`
	Version       string                 `json:"version"`
	Pubspec       map[string]interface{} `json:"pubspec"`
	ArchiveKey    string                 `json:"-"`
	ArchiveSHA256 string                 `json:"archive_sha256,omitempty"`
	// ArchiveURL is not persisted; handlers derive it from the request
	// host before marshaling.
	ArchiveURL        string     `json:"archive_url,omitempty"`
	PublishedAt       time.Time  `json:"published"`
	IsRetracted       bool       `json:"retracted,omitempty"`
	RetractedAt       *time.Time `json:"-"`
	RetractionMessage string     `json:"-"`
}

// PackageInfo is a package together with its versions and the resolved
// latest release. It is the unit list and detail endpoints return.
type PackageInfo struct {
	*Package
	Latest   *PackageVersion   `json:"latest,omitempty"`
	Versions []*PackageVersion `json:"versions"`
}

// NewPackageVersion carries everything needed to publish one version.
// The store creates the package row on first publish and appends the
// version row in the same transaction.
type NewPackageVersion struct {
	PackageName     string
	Version         string
	OwnerID         int64
	IsUpstreamCache bool
	Pubspec         map[string]interface{}
	ArchiveKey      string
	ArchiveSHA256   string
}

// Package populations selectable through PackageFilter.Kind.
const (
	KindHosted = "hosted"
	KindCached = "cached"
)

// PackageFilter narrows package listings.
type PackageFilter struct {
	// Kind selects a population: KindHosted, KindCached or "" for all.
	Kind string
	// OwnerID restricts to one owner when non-zero.
	OwnerID int64
}

// User is a registry account that can own packages, hold API tokens and
// sign in to the user UI.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// UserUpdate holds optional field changes for a user. Nil fields are
// left untouched.
type UserUpdate struct {
	Email        *string
	Name         *string
	PasswordHash *string
	IsActive     *bool
}

// Session is a browser session in one of the two realms. User sessions
// and admin sessions live in separate tables and never authenticate
// across realms.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token is an API token. Only the SHA-256 hash of the secret is stored;
// the plaintext is shown once at creation and never again.
type Token struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Hash       string     `json:"-"`
	Prefix     string     `json:"prefix"`
	Label      string     `json:"label"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// NewToken carries the fields for creating a token row.
type NewToken struct {
	UserID    int64
	Hash      string
	Prefix    string
	Label     string
	Scopes    []string
	ExpiresAt *time.Time
}

// AdminUser is an account in the admin realm. Admins manage the
// registry but do not own packages.
type AdminUser struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	PasswordHash       string     `json:"-"`
	MustChangePassword bool       `json:"must_change_password"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

// AdminLoginRecord is one audited admin login attempt, successful or
// not.
type AdminLoginRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// Webhook is a registered HTTP callback for registry events.
type Webhook struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	IsActive        bool       `json:"is_active"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewWebhook carries the fields for registering a webhook.
type NewWebhook struct {
	URL    string
	Secret string
	Events []string
}

// WebhookUpdate holds optional field changes for a webhook. Nil fields
// are left untouched. Setting IsActive to true also resets the failure
// counter.
type WebhookUpdate struct {
	URL      *string
	Secret   *string
	Events   []string
	IsActive *bool
}

// WebhookDelivery records one delivery attempt against a webhook.
type WebhookDelivery struct {
	ID         int64     `json:"id"`
	WebhookID  int64     `json:"webhook_id"`
	Event      string    `json:"event"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DownloadRecord is one archive download, kept for analytics.
type DownloadRecord struct {
	PackageName string
	Version     string
	IP          string
	UserAgent   string
}

// TimeCount is one bucket of a time-series aggregate.
type TimeCount struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

// PackageDownloadStats aggregates downloads for one package.
type PackageDownloadStats struct {
	PackageName    string      `json:"package_name"`
	TotalDownloads int64       `json:"total_downloads"`
	History        []TimeCount `json:"history"`
}

// ActivityEntry is one row of the human-readable activity feed shown in
// the admin UI.
type ActivityEntry struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	PackageName string    `json:"package_name,omitempty"`
	Version     string    `json:"version,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SiteConfig is one named configuration value editable at runtime.
type SiteConfig struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	ValueType string    `json:"value_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminStats is the dashboard summary.
type AdminStats struct {
	TotalPackages  int64 `json:"total_packages"`
	HostedPackages int64 `json:"hosted_packages"`
	CachedPackages int64 `json:"cached_packages"`
	TotalVersions  int64 `json:"total_versions"`
	TotalUsers     int64 `json:"total_users"`
	ActiveTokens   int64 `json:"active_tokens"`
	ActiveWebhooks int64 `json:"active_webhooks"`
	TotalDownloads int64 `json:"total_downloads"`
	Downloads24h   int64 `json:"downloads_24h"`
}

// HealthStatus reports backend reachability for the health endpoints.
type HealthStatus struct {
	Status      string `json:"status"`
	Type        string `json:"type"`
	LatencyMS   int64  `json:"latency_ms"`
	DBSizeBytes int64  `json:"db_size_bytes,omitempty"`
}
