package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/repub/pkg/storage"
)

const (
	packageColumns = `name, owner_id, is_upstream_cache, is_discontinued, replaced_by, created_at, updated_at`
	versionColumns = `package_name, version, pubspec, archive_key, archive_sha256, published_at, is_retracted, retracted_at, retraction_message`
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPackage(row rowScanner) (*storage.Package, error) {
	var p storage.Package
	err := row.Scan(&p.Name, &p.OwnerID, &p.IsUpstreamCache, &p.IsDiscontinued,
		&p.ReplacedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanVersion(row rowScanner) (*storage.PackageVersion, error) {
	var (
		v          storage.PackageVersion
		pubspecRaw string
		retracted  sql.NullTime
	)
	err := row.Scan(&v.PackageName, &v.Version, &pubspecRaw, &v.ArchiveKey,
		&v.ArchiveSHA256, &v.PublishedAt, &v.IsRetracted, &retracted, &v.RetractionMessage)
	if err != nil {
		return nil, err
	}
	pubspec, err := decodePubspec(pubspecRaw)
	if err != nil {
		return nil, err
	}
	v.Pubspec = pubspec
	v.RetractedAt = timePtr(retracted)
	return &v, nil
}

func packageFilterClause(filter storage.PackageFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	switch filter.Kind {
	case storage.KindHosted:
		conds = append(conds, "is_upstream_cache = 0")
	case storage.KindCached:
		conds = append(conds, "is_upstream_cache = 1")
	}
	if filter.OwnerID != 0 {
		conds = append(conds, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// likePattern escapes LIKE metacharacters in q and wraps it for a
// substring match. Queries use ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// ListPackages returns one page of packages ordered by name, each with
// its full version list, plus the total matching count.
func (s *Store) ListPackages(ctx context.Context, filter storage.PackageFilter, page, limit int) ([]*storage.PackageInfo, int64, error) {
	page, limit = storage.ClampPaging(page, limit)
	where, args := packageFilterClause(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("count packages", err)
	}

	query := `SELECT ` + packageColumns + ` FROM packages` + where + ` ORDER BY updated_at DESC, name LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, wrapErr("list packages", err)
	}
	pkgs, err := collectPackages(rows)
	if err != nil {
		return nil, 0, wrapErr("list packages", err)
	}
	infos, err := s.buildInfos(ctx, pkgs)
	if err != nil {
		return nil, 0, err
	}
	return infos, total, nil
}

// SearchPackages is ListPackages restricted to names containing query,
// case-insensitively.
func (s *Store) SearchPackages(ctx context.Context, query string, page, limit int) ([]*storage.PackageInfo, int64, error) {
	page, limit = storage.ClampPaging(page, limit)
	pattern := likePattern(query)

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packages WHERE name LIKE ? ESCAPE '\'`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, wrapErr("count packages", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE name LIKE ? ESCAPE '\' ORDER BY name LIMIT ? OFFSET ?`,
		pattern, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, wrapErr("search packages", err)
	}
	pkgs, err := collectPackages(rows)
	if err != nil {
		return nil, 0, wrapErr("search packages", err)
	}
	infos, err := s.buildInfos(ctx, pkgs)
	if err != nil {
		return nil, 0, err
	}
	return infos, total, nil
}

func collectPackages(rows *sql.Rows) ([]*storage.Package, error) {
	defer rows.Close()
	var pkgs []*storage.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// buildInfos loads every version of the given packages in one query and
// assembles PackageInfo values with resolved latest versions.
func (s *Store) buildInfos(ctx context.Context, pkgs []*storage.Package) ([]*storage.PackageInfo, error) {
	infos := make([]*storage.PackageInfo, 0, len(pkgs))
	if len(pkgs) == 0 {
		return infos, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(pkgs)), ",")
	args := make([]interface{}, len(pkgs))
	for i, p := range pkgs {
		args[i] = p.Name
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM package_versions WHERE package_name IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, wrapErr("load versions", err)
	}
	defer rows.Close()

	byPkg := make(map[string][]*storage.PackageVersion)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, wrapErr("load versions", err)
		}
		byPkg[v.PackageName] = append(byPkg[v.PackageName], v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load versions", err)
	}

	for _, p := range pkgs {
		versions := byPkg[p.Name]
		if versions == nil {
			versions = []*storage.PackageVersion{}
		}
		storage.SortVersions(versions)
		infos = append(infos, &storage.PackageInfo{
			Package:  p,
			Latest:   storage.LatestVersion(versions),
			Versions: versions,
		})
	}
	return infos, nil
}

func (s *Store) GetPackage(ctx context.Context, name string) (*storage.Package, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	p, err := scanPackage(row)
	if err != nil {
		return nil, wrapErr("get package "+name, err)
	}
	return p, nil
}

func (s *Store) GetPackageInfo(ctx context.Context, name string) (*storage.PackageInfo, error) {
	p, err := s.GetPackage(ctx, name)
	if err != nil {
		return nil, err
	}
	infos, err := s.buildInfos(ctx, []*storage.Package{p})
	if err != nil {
		return nil, err
	}
	return infos[0], nil
}

func (s *Store) GetPackageVersion(ctx context.Context, name, version string) (*storage.PackageVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM package_versions WHERE package_name = ? AND version = ?`,
		name, version)
	v, err := scanVersion(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get version %s %s", name, version), err)
	}
	return v, nil
}

// CreatePackageVersion inserts a version row, creating the package row
// on first publish, in a single transaction.
func (s *Store) CreatePackageVersion(ctx context.Context, nv storage.NewPackageVersion) (*storage.PackageVersion, error) {
	pubspecRaw, err := encodePubspec(nv.Pubspec)
	if err != nil {
		return nil, wrapErr("create version", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("create version", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var isCache bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_upstream_cache FROM packages WHERE name = ?`, nv.PackageName).Scan(&isCache)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		owner := nv.OwnerID
		if owner == 0 {
			owner = storage.AnonymousUserID
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO packages (name, owner_id, is_upstream_cache, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			nv.PackageName, owner, nv.IsUpstreamCache, now, now)
		if err != nil {
			return nil, wrapErr("create package", err)
		}
	case err != nil:
		return nil, wrapErr("create version", err)
	case isCache != nv.IsUpstreamCache:
		return nil, fmt.Errorf("create version: package %s mixes hosted and cached releases: %w",
			nv.PackageName, storage.ErrInvalid)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM package_versions WHERE package_name = ? AND version = ?`,
		nv.PackageName, nv.Version).Scan(&exists)
	if err != nil {
		return nil, wrapErr("create version", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("create version: %s %s already exists: %w",
			nv.PackageName, nv.Version, storage.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO package_versions (package_name, version, pubspec, archive_key, archive_sha256, published_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nv.PackageName, nv.Version, pubspecRaw, nv.ArchiveKey, nv.ArchiveSHA256, now)
	if err != nil {
		return nil, wrapErr("create version", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE packages SET updated_at = ? WHERE name = ?`, now, nv.PackageName); err != nil {
		return nil, wrapErr("create version", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("create version", err)
	}

	return &storage.PackageVersion{
		PackageName:   nv.PackageName,
		Version:       nv.Version,
		Pubspec:       nv.Pubspec,
		ArchiveKey:    nv.ArchiveKey,
		ArchiveSHA256: nv.ArchiveSHA256,
		PublishedAt:   now,
	}, nil
}

// DeletePackage removes a package and all its versions, returning the
// archive keys of the removed versions.
func (s *Store) DeletePackage(ctx context.Context, name string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("delete package", err)
	}
	defer tx.Rollback()

	keys, err := archiveKeys(ctx, tx,
		`SELECT archive_key FROM package_versions WHERE package_name = ?`, name)
	if err != nil {
		return nil, wrapErr("delete package", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM package_versions WHERE package_name = ?`, name); err != nil {
		return nil, wrapErr("delete package", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE name = ?`, name)
	if err != nil {
		return nil, wrapErr("delete package", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("delete package: %s: %w", name, storage.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("delete package", err)
	}
	return keys, nil
}

// DeletePackageVersion removes one version. Deleting the last version
// removes the package row too. Returns the removed archive key.
func (s *Store) DeletePackageVersion(ctx context.Context, name, version string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapErr("delete version", err)
	}
	defer tx.Rollback()

	var key string
	err = tx.QueryRowContext(ctx,
		`SELECT archive_key FROM package_versions WHERE package_name = ? AND version = ?`,
		name, version).Scan(&key)
	if err != nil {
		return "", wrapErr(fmt.Sprintf("delete version %s %s", name, version), err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM package_versions WHERE package_name = ? AND version = ?`, name, version); err != nil {
		return "", wrapErr("delete version", err)
	}
	var remaining int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM package_versions WHERE package_name = ?`, name).Scan(&remaining); err != nil {
		return "", wrapErr("delete version", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE name = ?`, name); err != nil {
			return "", wrapErr("delete version", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE packages SET updated_at = ? WHERE name = ?`, time.Now().UTC(), name); err != nil {
			return "", wrapErr("delete version", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", wrapErr("delete version", err)
	}
	return key, nil
}

func (s *Store) RetractPackageVersion(ctx context.Context, name, version, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE package_versions SET is_retracted = 1, retracted_at = ?, retraction_message = ? WHERE package_name = ? AND version = ?`,
		time.Now().UTC(), message, name, version)
	if err != nil {
		return wrapErr("retract version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retract version: %s %s: %w", name, version, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) UnretractPackageVersion(ctx context.Context, name, version string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE package_versions SET is_retracted = 0, retracted_at = NULL, retraction_message = '' WHERE package_name = ? AND version = ?`,
		name, version)
	if err != nil {
		return wrapErr("unretract version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unretract version: %s %s: %w", name, version, storage.ErrNotFound)
	}
	return nil
}

// TransferPackage reassigns a hosted package to a new owner. Cached
// packages have no meaningful owner and cannot be transferred.
func (s *Store) TransferPackage(ctx context.Context, name string, newOwnerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("transfer package", err)
	}
	defer tx.Rollback()

	var isCache bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_upstream_cache FROM packages WHERE name = ?`, name).Scan(&isCache)
	if err != nil {
		return wrapErr("transfer package "+name, err)
	}
	if isCache {
		return fmt.Errorf("transfer package: %s is an upstream cache entry: %w", name, storage.ErrInvalid)
	}
	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ?`, newOwnerID).Scan(&exists); err != nil {
		return wrapErr("transfer package", err)
	}
	if exists == 0 {
		return fmt.Errorf("transfer package: user %d: %w", newOwnerID, storage.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE packages SET owner_id = ?, updated_at = ? WHERE name = ?`,
		newOwnerID, time.Now().UTC(), name); err != nil {
		return wrapErr("transfer package", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("transfer package", err)
	}
	return nil
}

func (s *Store) SetPackageDiscontinued(ctx context.Context, name string, discontinued bool, replacedBy string) error {
	if !discontinued {
		replacedBy = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE packages SET is_discontinued = ?, replaced_by = ?, updated_at = ? WHERE name = ?`,
		discontinued, replacedBy, time.Now().UTC(), name)
	if err != nil {
		return wrapErr("set discontinued", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set discontinued: %s: %w", name, storage.ErrNotFound)
	}
	return nil
}

// PurgeCachedPackages removes every upstream-cached package in one
// transaction, returning the package count and the archive keys of all
// removed versions.
func (s *Store) PurgeCachedPackages(ctx context.Context) (int64, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, wrapErr("purge cache", err)
	}
	defer tx.Rollback()

	keys, err := archiveKeys(ctx, tx,
		`SELECT v.archive_key FROM package_versions v JOIN packages p ON p.name = v.package_name WHERE p.is_upstream_cache = 1`)
	if err != nil {
		return 0, nil, wrapErr("purge cache", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM package_versions WHERE package_name IN (SELECT name FROM packages WHERE is_upstream_cache = 1)`); err != nil {
		return 0, nil, wrapErr("purge cache", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE is_upstream_cache = 1`)
	if err != nil {
		return 0, nil, wrapErr("purge cache", err)
	}
	count, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, nil, wrapErr("purge cache", err)
	}
	return count, keys, nil
}

func archiveKeys(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
