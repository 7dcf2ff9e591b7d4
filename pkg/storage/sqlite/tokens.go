package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/repub/pkg/storage"
)

const tokenColumns = `id, user_id, token_hash, prefix, label, scopes, created_at, expires_at, last_used_at`

func scanToken(row rowScanner) (*storage.Token, error) {
	var (
		t         storage.Token
		scopesRaw string
		expires   sql.NullTime
		lastUsed  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Hash, &t.Prefix, &t.Label, &scopesRaw,
		&t.CreatedAt, &expires, &lastUsed)
	if err != nil {
		return nil, err
	}
	scopes, err := decodeStrings(scopesRaw)
	if err != nil {
		return nil, err
	}
	t.Scopes = scopes
	t.ExpiresAt = timePtr(expires)
	t.LastUsedAt = timePtr(lastUsed)
	return &t, nil
}

func (s *Store) CreateToken(ctx context.Context, nt storage.NewToken) (*storage.Token, error) {
	scopesRaw, err := encodeStrings(nt.Scopes)
	if err != nil {
		return nil, wrapErr("create token", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (user_id, token_hash, prefix, label, scopes, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nt.UserID, nt.Hash, nt.Prefix, nt.Label, scopesRaw, now, nullTime(nt.ExpiresAt))
	if err != nil {
		return nil, wrapErr("create token "+nt.Label, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapErr("create token", err)
	}
	return &storage.Token{
		ID:        id,
		UserID:    nt.UserID,
		Hash:      nt.Hash,
		Prefix:    nt.Prefix,
		Label:     nt.Label,
		Scopes:    nt.Scopes,
		CreatedAt: now,
		ExpiresAt: nt.ExpiresAt,
	}, nil
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*storage.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE token_hash = ?`, hash)
	t, err := scanToken(row)
	if err != nil {
		return nil, wrapErr("get token", err)
	}
	return t, nil
}

func (s *Store) TouchToken(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return wrapErr("touch token", err)
}

func (s *Store) ListTokens(ctx context.Context, userID int64) ([]*storage.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, wrapErr("list tokens", err)
	}
	defer rows.Close()
	tokens := []*storage.Token{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, wrapErr("list tokens", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, wrapErr("list tokens", rows.Err())
}

func (s *Store) DeleteToken(ctx context.Context, userID int64, label string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = ? AND label = ?`, userID, label)
	if err != nil {
		return wrapErr("delete token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete token %s: %w", label, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, wrapErr("reap tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
