package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/repub/pkg/storage"
)

const webhookColumns = `id, url, secret, events, is_active, failure_count, last_triggered_at, created_at`

func scanWebhook(row rowScanner) (*storage.Webhook, error) {
	var (
		w         storage.Webhook
		events    pq.StringArray
		triggered sql.NullTime
	)
	err := row.Scan(&w.ID, &w.URL, &w.Secret, &events, &w.IsActive,
		&w.FailureCount, &triggered, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Events = []string(events)
	w.LastTriggeredAt = timePtr(triggered)
	return &w, nil
}

func (s *Store) CreateWebhook(ctx context.Context, nw storage.NewWebhook) (*storage.Webhook, error) {
	now := time.Now().UTC()
	events := stringsOrEmpty(nw.Events)
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO webhooks (url, secret, events, is_active, created_at) VALUES ($1, $2, $3, TRUE, $4) RETURNING id`,
		nw.URL, nw.Secret, pq.Array(events), now).Scan(&id)
	if err != nil {
		return nil, wrapErr("create webhook", err)
	}
	return &storage.Webhook{
		ID:        id,
		URL:       nw.URL,
		Secret:    nw.Secret,
		Events:    events,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

func (s *Store) GetWebhook(ctx context.Context, id int64) (*storage.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
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
// the event or carries the "*" wildcard.
func (s *Store) ListWebhooksForEvent(ctx context.Context, event string) ([]*storage.Webhook, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE is_active = TRUE AND ($1 = ANY(events) OR '*' = ANY(events)) ORDER BY id`,
		event)
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
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.URL != nil {
		add("url", *upd.URL)
	}
	if upd.Secret != nil {
		add("secret", *upd.Secret)
	}
	if upd.Events != nil {
		add("events", pq.Array(upd.Events))
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
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
		fmt.Sprintf(`UPDATE webhooks SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
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
		`DELETE FROM webhook_deliveries WHERE webhook_id = $1`, id); err != nil {
		return wrapErr("delete webhook", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
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
		`UPDATE webhooks SET failure_count = 0, last_triggered_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	return wrapErr("reset webhook failures", err)
}

// IncrementWebhookFailure bumps the failure counter and deactivates the
// webhook once the counter reaches disableAfter. The increment and the
// threshold check happen in one statement so concurrent deliveries
// cannot race past the limit.
func (s *Store) IncrementWebhookFailure(ctx context.Context, id int64, disableAfter int) (int, bool, error) {
	var (
		count  int
		active bool
	)
	err := s.db.QueryRowContext(ctx,
		`UPDATE webhooks
		 SET failure_count = failure_count + 1,
		     is_active = CASE WHEN $1 > 0 AND failure_count + 1 >= $1 THEN FALSE ELSE is_active END
		 WHERE id = $2
		 RETURNING failure_count, is_active`,
		disableAfter, id).Scan(&count, &active)
	if err != nil {
		return 0, false, wrapErr("record webhook failure", err)
	}
	disabled := disableAfter > 0 && count >= disableAfter && !active
	return count, disabled, nil
}

func (s *Store) RecordWebhookDelivery(ctx context.Context, d *storage.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, url, status_code, success, error, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.WebhookID, d.Event, d.URL, d.StatusCode, d.Success, d.Error, d.DurationMS, time.Now().UTC())
	return wrapErr("record webhook delivery", err)
}

func (s *Store) ListWebhookDeliveries(ctx context.Context, webhookID int64, limit int) ([]*storage.WebhookDelivery, error) {
	if limit < 1 || limit > storage.MaxPageLimit {
		limit = storage.DefaultPageLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, event, url, status_code, success, error, duration_ms, created_at FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY id DESC LIMIT $2`,
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
