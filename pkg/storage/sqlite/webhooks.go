package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/repub/pkg/storage"
)

const webhookColumns = `id, url, secret, events, is_active, failure_count, last_triggered_at, created_at`

func scanWebhook(row rowScanner) (*storage.Webhook, error) {
	var (
		w         storage.Webhook
		eventsRaw string
		triggered sql.NullTime
	)
	err := row.Scan(&w.ID, &w.URL, &w.Secret, &eventsRaw, &w.IsActive,
		&w.FailureCount, &triggered, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	events, err := decodeStrings(eventsRaw)
	if err != nil {
		return nil, err
	}
	w.Events = events
	w.LastTriggeredAt = timePtr(triggered)
	return &w, nil
}

func (s *Store) CreateWebhook(ctx context.Context, nw storage.NewWebhook) (*storage.Webhook, error) {
	eventsRaw, err := encodeStrings(nw.Events)
	if err != nil {
		return nil, wrapErr("create webhook", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (url, secret, events, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
		nw.URL, nw.Secret, eventsRaw, now)
	if err != nil {
		return nil, wrapErr("create webhook", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapErr("create webhook", err)
	}
	return &storage.Webhook{
		ID:        id,
		URL:       nw.URL,
		Secret:    nw.Secret,
		Events:    nw.Events,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

func (s *Store) GetWebhook(ctx context.Context, id int64) (*storage.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get webhook %d", id), err)
	}
	return w, nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]*storage.Webhook, error) {
	return s.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY id`)
}

// ListWebhooksForEvent returns active webhooks whose event list names
// the event or carries the "*" wildcard. Events live in a JSON column,
// so membership is checked here rather than in SQL.
func (s *Store) ListWebhooksForEvent(ctx context.Context, event string) ([]*storage.Webhook, error) {
	hooks, err := s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	matched := hooks[:0]
	for _, w := range hooks {
		if webhookSubscribes(w.Events, event) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

func webhookSubscribes(events []string, event string) bool {
	for _, e := range events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]*storage.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list webhooks", err)
	}
	defer rows.Close()
	hooks := []*storage.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, wrapErr("list webhooks", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, wrapErr("list webhooks", rows.Err())
}

func (s *Store) UpdateWebhook(ctx context.Context, id int64, upd storage.WebhookUpdate) (*storage.Webhook, error) {
	var sets []string
	var args []interface{}
	if upd.URL != nil {
		sets = append(sets, "url = ?")
		args = append(args, *upd.URL)
	}
	if upd.Secret != nil {
		sets = append(sets, "secret = ?")
		args = append(args, *upd.Secret)
	}
	if upd.Events != nil {
		eventsRaw, err := encodeStrings(upd.Events)
		if err != nil {
			return nil, wrapErr("update webhook", err)
		}
		sets = append(sets, "events = ?")
		args = append(args, eventsRaw)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *upd.IsActive)
		// Re-enabling starts the failure budget over.
		if *upd.IsActive {
			sets = append(sets, "failure_count = 0")
		}
	}
	if len(sets) == 0 {
		return s.GetWebhook(ctx, id)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, wrapErr("update webhook", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update webhook %d: %w", id, storage.ErrNotFound)
	}
	return s.GetWebhook(ctx, id)
}

func (s *Store) DeleteWebhook(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete webhook", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE webhook_id = ?`, id); err != nil {
		return wrapErr("delete webhook", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete webhook", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete webhook %d: %w", id, storage.ErrNotFound)
	}
	return wrapErr("delete webhook", tx.Commit())
}

// ResetWebhookFailures zeroes the failure counter and stamps the last
// successful delivery time.
func (s *Store) ResetWebhookFailures(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET failure_count = 0, last_triggered_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return wrapErr("reset webhook failures", err)
}

// IncrementWebhookFailure bumps the failure counter and deactivates the
// webhook once the counter reaches disableAfter.
func (s *Store) IncrementWebhookFailure(ctx context.Context, id int64, disableAfter int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, wrapErr("record webhook failure", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE webhooks SET failure_count = failure_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, false, wrapErr("record webhook failure", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, false, fmt.Errorf("record webhook failure: webhook %d: %w", id, storage.ErrNotFound)
	}
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT failure_count FROM webhooks WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, false, wrapErr("record webhook failure", err)
	}
	disabled := false
	if disableAfter > 0 && count >= disableAfter {
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhooks SET is_active = 0 WHERE id = ?`, id); err != nil {
			return 0, false, wrapErr("record webhook failure", err)
		}
		disabled = true
	}
	if err := tx.Commit(); err != nil {
		return 0, false, wrapErr("record webhook failure", err)
	}
	return count, disabled, nil
}

func (s *Store) RecordWebhookDelivery(ctx context.Context, d *storage.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, url, status_code, success, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.WebhookID, d.Event, d.URL, d.StatusCode, d.Success, d.Error, d.DurationMS, time.Now().UTC())
	return wrapErr("record webhook delivery", err)
}

func (s *Store) ListWebhookDeliveries(ctx context.Context, webhookID int64, limit int) ([]*storage.WebhookDelivery, error) {
	if limit < 1 || limit > storage.MaxPageLimit {
		limit = storage.DefaultPageLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, event, url, status_code, success, error, duration_ms, created_at FROM webhook_deliveries WHERE webhook_id = ? ORDER BY id DESC LIMIT ?`,
		webhookID, limit)
	if err != nil {
		return nil, wrapErr("list webhook deliveries", err)
	}
	defer rows.Close()
	deliveries := []*storage.WebhookDelivery{}
	for rows.Next() {
		var d storage.WebhookDelivery
		err := rows.Scan(&d.ID, &d.WebhookID, &d.Event, &d.URL, &d.StatusCode,
			&d.Success, &d.Error, &d.DurationMS, &d.CreatedAt)
		if err != nil {
			return nil, wrapErr("list webhook deliveries", err)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, wrapErr("list webhook deliveries", rows.Err())
}
