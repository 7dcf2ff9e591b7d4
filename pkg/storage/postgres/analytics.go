package postgres

import (
	"context"
	"time"

	"github.com/platinummonkey/repub/pkg/storage"
)

func (s *Store) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (package_name, version, ip, user_agent, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.PackageName, rec.Version, rec.IP, rec.UserAgent, time.Now().UTC())
	return wrapErr("record download", err)
}

func (s *Store) DownloadsPerHour(ctx context.Context, since time.Time) ([]storage.TimeCount, error) {
	return s.timeCounts(ctx,
		`SELECT date_trunc('hour', created_at) AS bucket, COUNT(*) FROM downloads WHERE created_at >= $1 GROUP BY bucket ORDER BY bucket`,
		since.UTC())
}

func (s *Store) PackagesCreatedPerDay(ctx context.Context, since time.Time) ([]storage.TimeCount, error) {
	return s.timeCounts(ctx,
		`SELECT date_trunc('day', created_at) AS bucket, COUNT(*) FROM packages WHERE created_at >= $1 GROUP BY bucket ORDER BY bucket`,
		since.UTC())
}

func (s *Store) timeCounts(ctx context.Context, query string, args ...interface{}) ([]storage.TimeCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("aggregate", err)
	}
	defer rows.Close()
	counts := []storage.TimeCount{}
	for rows.Next() {
		var tc storage.TimeCount
		if err := rows.Scan(&tc.Bucket, &tc.Count); err != nil {
			return nil, wrapErr("aggregate", err)
		}
		tc.Bucket = tc.Bucket.UTC()
		counts = append(counts, tc)
	}
	return counts, wrapErr("aggregate", rows.Err())
}

func (s *Store) GetPackageDownloadStats(ctx context.Context, name string, since time.Time) (*storage.PackageDownloadStats, error) {
	stats := &storage.PackageDownloadStats{PackageName: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE package_name = $1`, name).Scan(&stats.TotalDownloads)
	if err != nil {
		return nil, wrapErr("package download stats", err)
	}
	history, err := s.timeCounts(ctx,
		`SELECT date_trunc('day', created_at) AS bucket, COUNT(*) FROM downloads WHERE package_name = $1 AND created_at >= $2 GROUP BY bucket ORDER BY bucket`,
		name, since.UTC())
	if err != nil {
		return nil, err
	}
	stats.History = history
	return stats, nil
}

func (s *Store) GetAdminStats(ctx context.Context) (*storage.AdminStats, error) {
	now := time.Now().UTC()
	stats := &storage.AdminStats{}
	counts := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalPackages, `SELECT COUNT(*) FROM packages`, nil},
		{&stats.HostedPackages, `SELECT COUNT(*) FROM packages WHERE is_upstream_cache = FALSE`, nil},
		{&stats.CachedPackages, `SELECT COUNT(*) FROM packages WHERE is_upstream_cache = TRUE`, nil},
		{&stats.TotalVersions, `SELECT COUNT(*) FROM package_versions`, nil},
		{&stats.TotalUsers, `SELECT COUNT(*) FROM users`, nil},
		{&stats.ActiveTokens, `SELECT COUNT(*) FROM tokens WHERE expires_at IS NULL OR expires_at > $1`, []interface{}{now}},
		{&stats.ActiveWebhooks, `SELECT COUNT(*) FROM webhooks WHERE is_active = TRUE`, nil},
		{&stats.TotalDownloads, `SELECT COUNT(*) FROM downloads`, nil},
		{&stats.Downloads24h, `SELECT COUNT(*) FROM downloads WHERE created_at >= $1`, []interface{}{now.Add(-24 * time.Hour)}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, wrapErr("admin stats", err)
		}
	}
	return stats, nil
}

// Activity feed.

func (s *Store) RecordActivity(ctx context.Context, e *storage.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (action, package_name, version, actor, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Action, e.PackageName, e.Version, e.Actor, e.Detail, time.Now().UTC())
	return wrapErr("record activity", err)
}

func (s *Store) ListActivity(ctx context.Context, page, limit int) ([]*storage.ActivityEntry, int64, error) {
	page, limit = storage.ClampPaging(page, limit)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`).Scan(&total); err != nil {
		return nil, 0, wrapErr("count activity", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, package_name, version, actor, detail, created_at FROM activity_log ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, wrapErr("list activity", err)
	}
	defer rows.Close()
	entries := make([]*storage.ActivityEntry, 0, limit)
	for rows.Next() {
		var e storage.ActivityEntry
		err := rows.Scan(&e.ID, &e.Action, &e.PackageName, &e.Version, &e.Actor, &e.Detail, &e.CreatedAt)
		if err != nil {
			return nil, 0, wrapErr("list activity", err)
		}
		entries = append(entries, &e)
	}
	return entries, total, wrapErr("list activity", rows.Err())
}

// Site configuration.

func (s *Store) GetSiteConfig(ctx context.Context, name string) (*storage.SiteConfig, error) {
	var c storage.SiteConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT name, value, value_type, updated_at FROM site_config WHERE name = $1`, name).
		Scan(&c.Name, &c.Value, &c.ValueType, &c.UpdatedAt)
	if err != nil {
		return nil, wrapErr("get site config "+name, err)
	}
	return &c, nil
}

func (s *Store) SetSiteConfig(ctx context.Context, name, value, valueType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO site_config (name, value, value_type, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, value_type = EXCLUDED.value_type, updated_at = EXCLUDED.updated_at`,
		name, value, valueType, time.Now().UTC())
	return wrapErr("set site config "+name, err)
}

func (s *Store) ListSiteConfig(ctx context.Context) ([]*storage.SiteConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, value_type, updated_at FROM site_config ORDER BY name`)
	if err != nil {
		return nil, wrapErr("list site config", err)
	}
	defer rows.Close()
	configs := []*storage.SiteConfig{}
	for rows.Next() {
		var c storage.SiteConfig
		if err := rows.Scan(&c.Name, &c.Value, &c.ValueType, &c.UpdatedAt); err != nil {
			return nil, wrapErr("list site config", err)
		}
		configs = append(configs, &c)
	}
	return configs, wrapErr("list site config", rows.Err())
}
