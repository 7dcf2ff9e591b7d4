// Package mail defines the notification sender used for operational
// alerts such as webhook auto-disable. SMTP wiring is out of scope;
// the shipped implementation records the notification in the server
// log so operators still see it.
package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Mailer delivers one notification message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes notifications to the log instead of sending them.
type LogMailer struct {
	log *logrus.Entry
}

var _ Mailer = (*LogMailer)(nil)

// NewLogMailer creates a mailer that logs at info level.
func NewLogMailer(log *logrus.Entry) *LogMailer {
	return &LogMailer{log: log}
}

// Send logs the notification. It never fails.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info(body)
	return nil
}
