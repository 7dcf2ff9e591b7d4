// Package activity appends entries to the registry's activity feed.
// The feed backs the admin dashboard; failures to record are logged
// and never surfaced to the triggering request.
package activity

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repub/pkg/storage"
)

// Feed actions.
const (
	ActionPublish      = "publish"
	ActionRetract      = "retract"
	ActionUnretract    = "unretract"
	ActionDelete       = "delete"
	ActionDiscontinue  = "discontinue"
	ActionTransfer     = "transfer"
	ActionCachePurge   = "cache_purge"
	ActionUserRegister = "user_register"
)

// Recorder writes activity entries.
type Recorder struct {
	store storage.Store
	log   *logrus.Entry
}

// NewRecorder creates a recorder over store.
func NewRecorder(store storage.Store, log *logrus.Entry) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record appends one entry, logging instead of failing.
func (r *Recorder) Record(ctx context.Context, e *storage.ActivityEntry) {
	if err := r.store.RecordActivity(ctx, e); err != nil {
		r.log.WithError(err).WithField("action", e.Action).Error("failed to record activity")
	}
}

// PackagePublished records a publish by actor.
func (r *Recorder) PackagePublished(ctx context.Context, pkg, version, actor string) {
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionPublish,
		PackageName: pkg,
		Version:     version,
		Actor:       actor,
		Detail:      fmt.Sprintf("published %s %s", pkg, version),
	})
}

// PackageRetracted records a retraction with its optional message.
func (r *Recorder) PackageRetracted(ctx context.Context, pkg, version, actor, message string) {
	detail := fmt.Sprintf("retracted %s %s", pkg, version)
	if message != "" {
		detail += ": " + message
	}
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionRetract,
		PackageName: pkg,
		Version:     version,
		Actor:       actor,
		Detail:      detail,
	})
}

// PackageUnretracted records the reversal of a retraction.
func (r *Recorder) PackageUnretracted(ctx context.Context, pkg, version, actor string) {
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionUnretract,
		PackageName: pkg,
		Version:     version,
		Actor:       actor,
		Detail:      fmt.Sprintf("unretracted %s %s", pkg, version),
	})
}

// PackageDeleted records removal of a whole package or one version.
func (r *Recorder) PackageDeleted(ctx context.Context, pkg, version, actor string) {
	detail := fmt.Sprintf("deleted %s", pkg)
	if version != "" {
		detail = fmt.Sprintf("deleted %s %s", pkg, version)
	}
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionDelete,
		PackageName: pkg,
		Version:     version,
		Actor:       actor,
		Detail:      detail,
	})
}

// PackageDiscontinued records a package being discontinued, optionally
// pointing at a replacement.
func (r *Recorder) PackageDiscontinued(ctx context.Context, pkg, actor, replacedBy string) {
	detail := fmt.Sprintf("discontinued %s", pkg)
	if replacedBy != "" {
		detail += ", replaced by " + replacedBy
	}
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionDiscontinue,
		PackageName: pkg,
		Actor:       actor,
		Detail:      detail,
	})
}

// PackageTransferred records an ownership change.
func (r *Recorder) PackageTransferred(ctx context.Context, pkg, actor, newOwner string) {
	r.Record(ctx, &storage.ActivityEntry{
		Action:      ActionTransfer,
		PackageName: pkg,
		Actor:       actor,
		Detail:      fmt.Sprintf("transferred %s to %s", pkg, newOwner),
	})
}

// CachePurged records an admin purge of the upstream cache.
func (r *Recorder) CachePurged(ctx context.Context, actor string, packages int64) {
	r.Record(ctx, &storage.ActivityEntry{
		Action: ActionCachePurge,
		Actor:  actor,
		Detail: fmt.Sprintf("purged %d cached packages", packages),
	})
}

// UserRegistered records a new account.
func (r *Recorder) UserRegistered(ctx context.Context, email string) {
	r.Record(ctx, &storage.ActivityEntry{
		Action: ActionUserRegister,
		Actor:  email,
		Detail: fmt.Sprintf("registered account %s", email),
	})
}
