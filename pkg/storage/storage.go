package storage

import (
	"context"
	"time"
)

// Store is the metadata persistence interface. Both backends implement
// every method; the server holds exactly one Store for its lifetime.
//
// All methods honor context cancellation. Methods that look up a single
// row return an error wrapping ErrNotFound when the row is absent, and
// methods that create rows return an error wrapping ErrConflict when a
// uniqueness constraint fires.
type Store interface {
	// RunMigrations applies any pending schema migrations. It is called
	// once at startup before the store is used.
	RunMigrations(ctx context.Context) error
	// HealthCheck pings the backend and reports latency.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Close() error

	// Packages.

	// ListPackages returns one page of packages with their versions,
	// most recently updated first, plus the total row count before
	// paging.
	ListPackages(ctx context.Context, filter PackageFilter, page, limit int) ([]*PackageInfo, int64, error)
	// SearchPackages is ListPackages restricted to names containing the
	// query, case-insensitively.
	SearchPackages(ctx context.Context, query string, page, limit int) ([]*PackageInfo, int64, error)
	GetPackage(ctx context.Context, name string) (*Package, error)
	// GetPackageInfo returns the package with all its versions. The
	// Latest field is resolved by the backend via LatestVersion.
	GetPackageInfo(ctx context.Context, name string) (*PackageInfo, error)
	GetPackageVersion(ctx context.Context, name, version string) (*PackageVersion, error)
	// CreatePackageVersion inserts a version, creating the package row
	// on first publish, in one transaction. Publishing a version that
	// already exists returns ErrConflict; publishing a hosted version
	// into a cached package (or the reverse) returns ErrInvalid.
	CreatePackageVersion(ctx context.Context, nv NewPackageVersion) (*PackageVersion, error)
	// DeletePackage removes the package and all its versions, returning
	// the archive keys of the removed versions so the caller can drop
	// the blobs afterwards.
	DeletePackage(ctx context.Context, name string) ([]string, error)
	// DeletePackageVersion removes a single version. Deleting the last
	// version removes the package row too. Returns the archive key of
	// the removed version.
	DeletePackageVersion(ctx context.Context, name, version string) (string, error)
	RetractPackageVersion(ctx context.Context, name, version, message string) error
	UnretractPackageVersion(ctx context.Context, name, version string) error
	// TransferPackage reassigns ownership of a hosted package.
	TransferPackage(ctx context.Context, name string, newOwnerID int64) error
	// SetPackageDiscontinued marks or unmarks a package as
	// discontinued, optionally naming a replacement.
	SetPackageDiscontinued(ctx context.Context, name string, discontinued bool, replacedBy string) error
	// PurgeCachedPackages deletes every upstream-cached package and
	// version in one transaction and returns the count of removed
	// packages together with the archive keys of all removed versions.
	PurgeCachedPackages(ctx context.Context) (int64, []string, error)

	// Users.

	CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*User, error)
	// DeleteUser removes a user and their tokens and sessions, and
	// reassigns their packages to the anonymous user, in one
	// transaction. Deleting the anonymous user returns ErrInvalid.
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context, page, limit int) ([]*User, int64, error)
	TouchUserLogin(ctx context.Context, id int64) error

	// User sessions.

	CreateSession(ctx context.Context, userID int64, ttl time.Duration) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Admin accounts and sessions.

	CountAdminUsers(ctx context.Context) (int64, error)
	CreateAdminUser(ctx context.Context, username, passwordHash string, mustChangePassword bool) (*AdminUser, error)
	GetAdminUser(ctx context.Context, id int64) (*AdminUser, error)
	GetAdminUserByUsername(ctx context.Context, username string) (*AdminUser, error)
	// UpdateAdminPassword stores a new hash and clears the
	// must-change-password flag.
	UpdateAdminPassword(ctx context.Context, id int64, passwordHash string) error
	// SetAdminActive enables or disables an admin account. Inactive
	// admins cannot log in and their sessions stop resolving.
	SetAdminActive(ctx context.Context, id int64, active bool) error
	TouchAdminLogin(ctx context.Context, id int64) error
	CreateAdminSession(ctx context.Context, adminID int64, ttl time.Duration) (*Session, error)
	GetAdminSession(ctx context.Context, id string) (*Session, error)
	DeleteAdminSession(ctx context.Context, id string) error
	// DeleteExpiredSessions reaps expired rows in both session realms
	// and returns the number removed.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	RecordAdminLogin(ctx context.Context, rec AdminLoginRecord) error
	ListAdminLogins(ctx context.Context, page, limit int) ([]*AdminLoginRecord, int64, error)

	// API tokens.

	CreateToken(ctx context.Context, nt NewToken) (*Token, error)
	// GetTokenByHash looks up a token by the SHA-256 hash of its
	// secret. Expired tokens are returned; the caller decides how to
	// treat them.
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	TouchToken(ctx context.Context, id int64) error
	ListTokens(ctx context.Context, userID int64) ([]*Token, error)
	// DeleteToken removes the token with the given label owned by
	// userID.
	DeleteToken(ctx context.Context, userID int64, label string) error
	// DeleteExpiredTokens reaps tokens past their expiry and returns
	// the number removed.
	DeleteExpiredTokens(ctx context.Context) (int64, error)

	// Webhooks.

	CreateWebhook(ctx context.Context, nw NewWebhook) (*Webhook, error)
	GetWebhook(ctx context.Context, id int64) (*Webhook, error)
	ListWebhooks(ctx context.Context) ([]*Webhook, error)
	// ListWebhooksForEvent returns active webhooks subscribed to the
	// event.
	ListWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, id int64, upd WebhookUpdate) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id int64) error
	// ResetWebhookFailures zeroes the failure counter and stamps
	// last_triggered_at after a successful delivery.
	ResetWebhookFailures(ctx context.Context, id int64) error
	// IncrementWebhookFailure bumps the failure counter and disables
	// the webhook once the counter reaches disableAfter. It returns the
	// new counter value and whether the webhook was disabled by this
	// call.
	IncrementWebhookFailure(ctx context.Context, id int64, disableAfter int) (int, bool, error)
	RecordWebhookDelivery(ctx context.Context, d *WebhookDelivery) error
	ListWebhookDeliveries(ctx context.Context, webhookID int64, limit int) ([]*WebhookDelivery, error)

	// Downloads and analytics.

	RecordDownload(ctx context.Context, rec DownloadRecord) error
	DownloadsPerHour(ctx context.Context, since time.Time) ([]TimeCount, error)
	PackagesCreatedPerDay(ctx context.Context, since time.Time) ([]TimeCount, error)
	GetPackageDownloadStats(ctx context.Context, name string, since time.Time) (*PackageDownloadStats, error)
	GetAdminStats(ctx context.Context) (*AdminStats, error)

	// Activity feed.

	RecordActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, page, limit int) ([]*ActivityEntry, int64, error)

	// Site configuration.

	GetSiteConfig(ctx context.Context, name string) (*SiteConfig, error)
	SetSiteConfig(ctx context.Context, name, value, valueType string) error
	ListSiteConfig(ctx context.Context) ([]*SiteConfig, error)
}
