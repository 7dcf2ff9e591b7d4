package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/repub/pkg/storage"
)

const userColumns = `id, email, name, password_hash, is_active, created_at, last_login_at`

func scanUser(row rowScanner) (*storage.User, error) {
	var u storage.User
	var last sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &last)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = timePtr(last)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (*storage.User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
		email, name, passwordHash, now)
	if err != nil {
		return nil, wrapErr("create user "+email, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapErr("create user", err)
	}
	return &storage.User{
		ID:           id,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
	}, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get user %d", id), err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, wrapErr("get user "+email, err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, upd storage.UserUpdate) (*storage.User, error) {
	var sets []string
	var args []interface{}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *upd.IsActive)
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, id)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, wrapErr("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update user %d: %w", id, storage.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes a user together with their tokens and sessions and
// reassigns their packages to the anonymous user, all in one
// transaction.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if id == storage.AnonymousUserID {
		return fmt.Errorf("delete user: the anonymous user cannot be deleted: %w", storage.ErrInvalid)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete user", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE packages SET owner_id = ?, updated_at = ? WHERE owner_id = ?`,
		storage.AnonymousUserID, time.Now().UTC(), id); err != nil {
		return wrapErr("delete user", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, id); err != nil {
		return wrapErr("delete user", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return wrapErr("delete user", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete user %d: %w", id, storage.ErrNotFound)
	}
	return wrapErr("delete user", tx.Commit())
}

func (s *Store) ListUsers(ctx context.Context, page, limit int) ([]*storage.User, int64, error) {
	page, limit = storage.ClampPaging(page, limit)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, wrapErr("count users", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, wrapErr("list users", err)
	}
	defer rows.Close()
	users := make([]*storage.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, wrapErr("list users", err)
		}
		users = append(users, u)
	}
	return users, total, wrapErr("list users", rows.Err())
}

func (s *Store) TouchUserLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return wrapErr("touch user login", err)
}

// Sessions.

func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (*storage.Session, error) {
	sess := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	sess.ExpiresAt = sess.CreatedAt.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr("create session", err)
	}
	return sess, nil
}

// GetSession returns a live session. Expired sessions are reported as
// not found; the reaper removes the rows later.
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	var sess storage.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC()).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr("get session", err)
	}
	return &sess, nil
}

// DeleteSession is idempotent: deleting an absent session is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return wrapErr("delete session", err)
}

// Admin accounts.

const adminColumns = `id, username, password_hash, must_change_password, is_active, created_at, last_login_at`

func scanAdmin(row rowScanner) (*storage.AdminUser, error) {
	var a storage.AdminUser
	var last sql.NullTime
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.MustChangePassword, &a.IsActive, &a.CreatedAt, &last)
	if err != nil {
		return nil, err
	}
	a.LastLoginAt = timePtr(last)
	return &a, nil
}

func (s *Store) CountAdminUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&n)
	return n, wrapErr("count admin users", err)
}

func (s *Store) CreateAdminUser(ctx context.Context, username, passwordHash string, mustChangePassword bool) (*storage.AdminUser, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_users (username, password_hash, must_change_password, created_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, mustChangePassword, now)
	if err != nil {
		return nil, wrapErr("create admin user "+username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapErr("create admin user", err)
	}
	return &storage.AdminUser{
		ID:                 id,
		Username:           username,
		PasswordHash:       passwordHash,
		MustChangePassword: mustChangePassword,
		IsActive:           true,
		CreatedAt:          now,
	}, nil
}

func (s *Store) SetAdminActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return wrapErr("set admin active", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set admin active: admin %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetAdminUser(ctx context.Context, id int64) (*storage.AdminUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE id = ?`, id)
	a, err := scanAdmin(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get admin user %d", id), err)
	}
	return a, nil
}

func (s *Store) GetAdminUserByUsername(ctx context.Context, username string) (*storage.AdminUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE username = ?`, username)
	a, err := scanAdmin(row)
	if err != nil {
		return nil, wrapErr("get admin user "+username, err)
	}
	return a, nil
}

// UpdateAdminPassword stores the new hash and clears the forced-change
// flag in one statement.
func (s *Store) UpdateAdminPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET password_hash = ?, must_change_password = 0 WHERE id = ?`,
		passwordHash, id)
	if err != nil {
		return wrapErr("update admin password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update admin password: admin %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) TouchAdminLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return wrapErr("touch admin login", err)
}

// Admin sessions.

func (s *Store) CreateAdminSession(ctx context.Context, adminID int64, ttl time.Duration) (*storage.Session, error) {
	sess := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    adminID,
		CreatedAt: time.Now().UTC(),
	}
	sess.ExpiresAt = sess.CreatedAt.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_sessions (id, admin_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr("create admin session", err)
	}
	return sess, nil
}

func (s *Store) GetAdminSession(ctx context.Context, id string) (*storage.Session, error) {
	var sess storage.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, admin_id, created_at, expires_at FROM admin_sessions WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC()).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr("get admin session", err)
	}
	return &sess, nil
}

func (s *Store) DeleteAdminSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE id = ?`, id)
	return wrapErr("delete admin session", err)
}

// DeleteExpiredSessions reaps both session realms.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var removed int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, wrapErr("reap sessions", err)
	}
	n, _ := res.RowsAffected()
	removed += n
	res, err = s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return removed, wrapErr("reap admin sessions", err)
	}
	n, _ = res.RowsAffected()
	removed += n
	return removed, nil
}

// Admin login audit.

func (s *Store) RecordAdminLogin(ctx context.Context, rec storage.AdminLoginRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_login_audit (username, ip, user_agent, success, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Username, rec.IP, rec.UserAgent, rec.Success, time.Now().UTC())
	return wrapErr("record admin login", err)
}

func (s *Store) ListAdminLogins(ctx context.Context, page, limit int) ([]*storage.AdminLoginRecord, int64, error) {
	page, limit = storage.ClampPaging(page, limit)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_login_audit`).Scan(&total); err != nil {
		return nil, 0, wrapErr("count admin logins", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, ip, user_agent, success, created_at FROM admin_login_audit ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, wrapErr("list admin logins", err)
	}
	defer rows.Close()
	recs := make([]*storage.AdminLoginRecord, 0, limit)
	for rows.Next() {
		var rec storage.AdminLoginRecord
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.IP, &rec.UserAgent, &rec.Success, &rec.CreatedAt); err != nil {
			return nil, 0, wrapErr("list admin logins", err)
		}
		recs = append(recs, &rec)
	}
	return recs, total, wrapErr("list admin logins", rows.Err())
}
