package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/repub/pkg/storage"
)

const (
	packageKeyPrefix = "repub:pkg:"
	versionKeyPrefix = "repub:ver:"
	defaultCacheTTL  = 5 * time.Minute
)

// CachedStore layers a redis read-through cache over the hot package
// lookups. Misses and redis failures fall through to the database, so
// a dead redis only costs latency, never correctness. Every write that
// touches a package drops its cache entries before returning.
type CachedStore struct {
	*Store
	rdb *redis.Client
	ttl time.Duration
}

var _ storage.Store = (*CachedStore)(nil)

// NewCachedStore connects to redis at redisURL
// (redis://[:password@]host:port/db) and wraps store.
func NewCachedStore(store *Store, redisURL string) (*CachedStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewCachedStoreWithClient(store, rdb), nil
}

// NewCachedStoreWithClient wraps store using an existing redis client.
// Used by tests.
func NewCachedStoreWithClient(store *Store, client *redis.Client) *CachedStore {
	return &CachedStore{Store: store, rdb: client, ttl: defaultCacheTTL}
}

// Close closes the redis client and the underlying store.
func (c *CachedStore) Close() error {
	rerr := c.rdb.Close()
	serr := c.Store.Close()
	if rerr != nil {
		return rerr
	}
	return serr
}

// The cache stores its own wire shape. The storage entities hide
// internal fields like the archive key from their JSON form, and the
// cache must keep those.

type versionBlob struct {
	PackageName       string                 `json:"package_name"`
	Version           string                 `json:"version"`
	Pubspec           map[string]interface{} `json:"pubspec"`
	ArchiveKey        string                 `json:"archive_key"`
	ArchiveSHA256     string                 `json:"archive_sha256"`
	PublishedAt       time.Time              `json:"published_at"`
	IsRetracted       bool                   `json:"is_retracted"`
	RetractedAt       *time.Time             `json:"retracted_at,omitempty"`
	RetractionMessage string                 `json:"retraction_message,omitempty"`
}

type packageBlob struct {
	Package  *storage.Package `json:"package"`
	Latest   *versionBlob     `json:"latest,omitempty"`
	Versions []*versionBlob   `json:"versions"`
}

func newVersionBlob(v *storage.PackageVersion) *versionBlob {
	if v == nil {
		return nil
	}
	return &versionBlob{
		PackageName:       v.PackageName,
		Version:           v.Version,
		Pubspec:           v.Pubspec,
		ArchiveKey:        v.ArchiveKey,
		ArchiveSHA256:     v.ArchiveSHA256,
		PublishedAt:       v.PublishedAt,
		IsRetracted:       v.IsRetracted,
		RetractedAt:       v.RetractedAt,
		RetractionMessage: v.RetractionMessage,
	}
}

func (b *versionBlob) toVersion() *storage.PackageVersion {
	if b == nil {
		return nil
	}
	return &storage.PackageVersion{
		PackageName:       b.PackageName,
		Version:           b.Version,
		Pubspec:           b.Pubspec,
		ArchiveKey:        b.ArchiveKey,
		ArchiveSHA256:     b.ArchiveSHA256,
		PublishedAt:       b.PublishedAt,
		IsRetracted:       b.IsRetracted,
		RetractedAt:       b.RetractedAt,
		RetractionMessage: b.RetractionMessage,
	}
}

func newPackageBlob(info *storage.PackageInfo) *packageBlob {
	blob := &packageBlob{
		Package:  info.Package,
		Latest:   newVersionBlob(info.Latest),
		Versions: make([]*versionBlob, 0, len(info.Versions)),
	}
	for _, v := range info.Versions {
		blob.Versions = append(blob.Versions, newVersionBlob(v))
	}
	return blob
}

func (b *packageBlob) toInfo() *storage.PackageInfo {
	info := &storage.PackageInfo{
		Package:  b.Package,
		Latest:   b.Latest.toVersion(),
		Versions: make([]*storage.PackageVersion, 0, len(b.Versions)),
	}
	for _, v := range b.Versions {
		info.Versions = append(info.Versions, v.toVersion())
	}
	return info
}

func (c *CachedStore) GetPackageInfo(ctx context.Context, name string) (*storage.PackageInfo, error) {
	key := packageKeyPrefix + name
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var blob packageBlob
		if err := json.Unmarshal(raw, &blob); err == nil {
			return blob.toInfo(), nil
		}
	}
	info, err := c.Store.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(newPackageBlob(info)); err == nil {
		c.rdb.Set(ctx, key, raw, c.ttl)
	}
	return info, nil
}

func (c *CachedStore) GetPackageVersion(ctx context.Context, name, version string) (*storage.PackageVersion, error) {
	key := versionKeyPrefix + name + ":" + version
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var blob versionBlob
		if err := json.Unmarshal(raw, &blob); err == nil {
			return blob.toVersion(), nil
		}
	}
	v, err := c.Store.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(newVersionBlob(v)); err == nil {
		c.rdb.Set(ctx, key, raw, c.ttl)
	}
	return v, nil
}

// invalidatePackage drops the package entry and every cached version of
// it. Best effort: a failed delete leaves entries to expire by TTL.
func (c *CachedStore) invalidatePackage(ctx context.Context, name string) {
	keys := []string{packageKeyPrefix + name}
	iter := c.rdb.Scan(ctx, 0, versionKeyPrefix+name+":*", 64).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	c.rdb.Del(ctx, keys...)
}

func (c *CachedStore) flushPackages(ctx context.Context) {
	for _, pattern := range []string{packageKeyPrefix + "*", versionKeyPrefix + "*"} {
		iter := c.rdb.Scan(ctx, 0, pattern, 128).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if len(keys) > 0 {
			c.rdb.Del(ctx, keys...)
		}
	}
}

func (c *CachedStore) CreatePackageVersion(ctx context.Context, nv storage.NewPackageVersion) (*storage.PackageVersion, error) {
	v, err := c.Store.CreatePackageVersion(ctx, nv)
	if err != nil {
		return nil, err
	}
	c.invalidatePackage(ctx, nv.PackageName)
	return v, nil
}

func (c *CachedStore) DeletePackage(ctx context.Context, name string) ([]string, error) {
	keys, err := c.Store.DeletePackage(ctx, name)
	if err != nil {
		return nil, err
	}
	c.invalidatePackage(ctx, name)
	return keys, nil
}

func (c *CachedStore) DeletePackageVersion(ctx context.Context, name, version string) (string, error) {
	key, err := c.Store.DeletePackageVersion(ctx, name, version)
	if err != nil {
		return "", err
	}
	c.invalidatePackage(ctx, name)
	return key, nil
}

func (c *CachedStore) RetractPackageVersion(ctx context.Context, name, version, message string) error {
	if err := c.Store.RetractPackageVersion(ctx, name, version, message); err != nil {
		return err
	}
	c.invalidatePackage(ctx, name)
	return nil
}

func (c *CachedStore) UnretractPackageVersion(ctx context.Context, name, version string) error {
	if err := c.Store.UnretractPackageVersion(ctx, name, version); err != nil {
		return err
	}
	c.invalidatePackage(ctx, name)
	return nil
}

func (c *CachedStore) TransferPackage(ctx context.Context, name string, newOwnerID int64) error {
	if err := c.Store.TransferPackage(ctx, name, newOwnerID); err != nil {
		return err
	}
	c.invalidatePackage(ctx, name)
	return nil
}

func (c *CachedStore) SetPackageDiscontinued(ctx context.Context, name string, discontinued bool, replacedBy string) error {
	if err := c.Store.SetPackageDiscontinued(ctx, name, discontinued, replacedBy); err != nil {
		return err
	}
	c.invalidatePackage(ctx, name)
	return nil
}

func (c *CachedStore) PurgeCachedPackages(ctx context.Context) (int64, []string, error) {
	count, keys, err := c.Store.PurgeCachedPackages(ctx)
	if err != nil {
		return 0, nil, err
	}
	c.flushPackages(ctx)
	return count, keys, nil
}
