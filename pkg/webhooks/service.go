package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/platinummonkey/repub/pkg/mail"
	"github.com/platinummonkey/repub/pkg/storage"
)

const (
	// DisableAfterFailures is the consecutive-failure threshold at
	// which a webhook is switched off.
	DisableAfterFailures = 5

	// maxConcurrentDeliveries bounds the fan-out per event.
	maxConcurrentDeliveries = 5

	deliveryTimeout = 10 * time.Second

	// notificationConfigKey names the site-config row holding the
	// administrator email for disable alerts.
	notificationConfigKey = "admin_notification_email"
)

// payload is the wire body POSTed to webhook endpoints.
type payload struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Service fans registry events out to subscribed webhooks.
type Service struct {
	store  storage.Store
	mailer mail.Mailer
	log    *logrus.Entry
	client *http.Client

	// validate is swapped out in tests, which deliver to loopback.
	validate func(string) error
}

// NewService creates a delivery service. mailer may be nil to skip
// disable notifications.
func NewService(store storage.Store, mailer mail.Mailer, log *logrus.Entry) *Service {
	return &Service{
		store:    store,
		mailer:   mailer,
		log:      log,
		client:   &http.Client{Timeout: deliveryTimeout},
		validate: ValidateURL,
	}
}

// Dispatch delivers event to every active subscribed webhook, at most
// five at a time, and blocks until all deliveries finish. Callers run
// it as a background task; delivery failures are recorded and logged,
// never returned.
func (s *Service) Dispatch(ctx context.Context, event string, data interface{}) error {
	hooks, err := s.store.ListWebhooksForEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("list webhooks for %s: %w", event, err)
	}
	if len(hooks) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(maxConcurrentDeliveries)
	for _, wh := range hooks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(wh *storage.Webhook) {
			defer sem.Release(1)
			s.Deliver(ctx, wh, event, data)
		}(wh)
	}
	// Drain: acquiring the full weight waits for every delivery.
	if err := sem.Acquire(ctx, maxConcurrentDeliveries); err != nil {
		return err
	}
	return nil
}

// Deliver performs one delivery attempt and records the outcome. The
// returned row describes the attempt; admin "test" fires use it as the
// response body.
func (s *Service) Deliver(ctx context.Context, wh *storage.Webhook, event string, data interface{}) *storage.WebhookDelivery {
	d := &storage.WebhookDelivery{
		WebhookID: wh.ID,
		Event:     event,
		URL:       wh.URL,
	}

	// Re-check at delivery time: the guard list may have tightened
	// since the webhook was registered.
	if err := s.validate(wh.URL); err != nil {
		d.Error = err.Error()
		s.disable(ctx, wh, d.Error)
		s.finish(ctx, wh, d, false)
		return d
	}

	body, err := json.Marshal(payload{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		d.Error = fmt.Sprintf("encode payload: %v", err)
		s.finish(ctx, wh, d, false)
		return d
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		d.Error = fmt.Sprintf("build request: %v", err)
		s.finish(ctx, wh, d, false)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", uuid.NewString())
	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(wh.Secret, body))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	d.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		d.Error = err.Error()
		s.finish(ctx, wh, d, false)
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		d.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	s.finish(ctx, wh, d, ok)
	return d
}

// Sign computes the delivery signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// finish updates failure accounting and appends the audit row.
func (s *Service) finish(ctx context.Context, wh *storage.Webhook, d *storage.WebhookDelivery, ok bool) {
	d.Success = ok
	if ok {
		if err := s.store.ResetWebhookFailures(ctx, wh.ID); err != nil {
			s.log.WithError(err).WithField("webhook_id", wh.ID).Error("failed to reset webhook failures")
		}
	} else {
		count, disabled, err := s.store.IncrementWebhookFailure(ctx, wh.ID, DisableAfterFailures)
		if err != nil {
			s.log.WithError(err).WithField("webhook_id", wh.ID).Error("failed to record webhook failure")
		} else if disabled {
			s.notifyDisabled(ctx, wh, count, d.Error)
		}
	}

	if err := s.store.RecordWebhookDelivery(ctx, d); err != nil {
		s.log.WithError(err).WithField("webhook_id", wh.ID).Error("failed to record webhook delivery")
	}

	fields := logrus.Fields{
		"webhook_id": wh.ID,
		"event":      d.Event,
		"status":     d.StatusCode,
	}
	if ok {
		s.log.WithFields(fields).Debug("webhook delivered")
	} else {
		s.log.WithFields(fields).WithField("error", d.Error).Warn("webhook delivery failed")
	}
}

// disable switches the webhook off immediately, used when the SSRF
// guard rejects its URL.
func (s *Service) disable(ctx context.Context, wh *storage.Webhook, reason string) {
	inactive := false
	if _, err := s.store.UpdateWebhook(ctx, wh.ID, storage.WebhookUpdate{IsActive: &inactive}); err != nil {
		s.log.WithError(err).WithField("webhook_id", wh.ID).Error("failed to disable webhook")
		return
	}
	s.notifyDisabled(ctx, wh, wh.FailureCount, reason)
}

// notifyDisabled emails the configured administrator address, when one
// is set.
func (s *Service) notifyDisabled(ctx context.Context, wh *storage.Webhook, failures int, reason string) {
	s.log.WithFields(logrus.Fields{
		"webhook_id": wh.ID,
		"url":        wh.URL,
		"failures":   failures,
	}).Warn("webhook disabled")

	if s.mailer == nil {
		return
	}
	cfg, err := s.store.GetSiteConfig(ctx, notificationConfigKey)
	if err != nil || cfg.Value == "" {
		return
	}
	subject := fmt.Sprintf("Webhook disabled: %s", wh.URL)
	body := fmt.Sprintf("Webhook %d (%s) was disabled after %d failures. Last error: %s",
		wh.ID, wh.URL, failures, reason)
	if err := s.mailer.Send(ctx, cfg.Value, subject, body); err != nil {
		s.log.WithError(err).Error("failed to send webhook disable notification")
	}
}
