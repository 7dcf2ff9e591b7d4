package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/platinummonkey/repub/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectAttempts = 30
	connectBackoff  = time.Second
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New connects to the database at databaseURL. The initial ping is
// retried for up to thirty seconds so the server comes up cleanly when
// the database container is still starting.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for i := 0; ; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if i+1 >= connectAttempts {
			db.Close()
			return nil, fmt.Errorf("failed to ping postgres after %d attempts: %w", connectAttempts, err)
		}
		time.Sleep(connectBackoff)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle. Used by tests.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// HealthCheck pings the database and reports latency and on-disk size.
func (s *Store) HealthCheck(ctx context.Context) (*storage.HealthStatus, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w: %v", storage.ErrUnavailable, err)
	}
	status := &storage.HealthStatus{
		Status:    "ok",
		Type:      "postgres",
		LatencyMS: time.Since(start).Milliseconds(),
	}
	var size int64
	if err := s.db.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`).Scan(&size); err == nil {
		status.DBSizeBytes = size
	}
	return status, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapErr maps driver errors onto the storage sentinel errors while
// keeping the driver detail in the message.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var perr *pq.Error
	return errors.As(err, &perr) && perr.Code == "23505"
}

func encodePubspec(p map[string]interface{}) ([]byte, error) {
	if p == nil {
		p = map[string]interface{}{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pubspec: %w", err)
	}
	return b, nil
}

func decodePubspec(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var p map[string]interface{}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode pubspec: %w", err)
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func stringsOrEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
