package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/storage"
)

// Options configures a publish Service.
type Options struct {
	// RequireAuth rejects finalize calls without a valid token.
	RequireAuth bool
	// SessionTTL bounds how long an upload may sit before finalize.
	SessionTTL time.Duration
}

// Service runs the upload flow: sessions, archive validation, rights
// checks and the blob+metadata write on finalize.
type Service struct {
	store       storage.Store
	blobs       blob.Store
	sessions    *SessionStore
	log         *logrus.Entry
	requireAuth bool
}

// NewService creates a publish service writing archives to blobs and
// metadata to store.
func NewService(store storage.Store, blobs blob.Store, log *logrus.Entry, opts Options) *Service {
	return &Service{
		store:       store,
		blobs:       blobs,
		sessions:    NewSessionStore(opts.SessionTTL),
		log:         log,
		requireAuth: opts.RequireAuth,
	}
}

// Sessions exposes the session store so the server can wire the
// periodic reaper.
func (s *Service) Sessions() *SessionStore { return s.sessions }

// Start opens a new upload session.
func (s *Service) Start() *Session { return s.sessions.Create() }

// Upload stores the archive bytes for an open session.
func (s *Service) Upload(id string, data []byte) error {
	return s.sessions.PutData(id, data)
}

// Result describes a completed publish.
type Result struct {
	Version *storage.PackageVersion
	Message string
}

// Finalize consumes the session, validates the archive and publishes
// it. token is nil for anonymous calls. The session is always removed,
// so a failed finalize means re-uploading from scratch.
func (s *Service) Finalize(ctx context.Context, sessionID string, token *storage.Token) (*Result, error) {
	data, err := s.sessions.Take(sessionID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	m, err := ValidateArchive(data)
	if err != nil {
		return nil, err
	}

	ownerID, err := s.authorize(ctx, m.Name, token)
	if err != nil {
		return nil, err
	}

	key := blob.ArchiveKey(m.Name, m.Version, m.SHA256)
	if err := s.blobs.PutArchive(ctx, key, data); err != nil {
		return nil, fmt.Errorf("store archive: %w", err)
	}

	pv, err := s.store.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName:   m.Name,
		Version:       m.Version,
		OwnerID:       ownerID,
		Pubspec:       m.Pubspec,
		ArchiveKey:    key,
		ArchiveSHA256: m.SHA256,
	})
	if err != nil {
		// The orphaned blob is harmless; a later successful publish of
		// the same bytes reuses the same key.
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"package": m.Name,
		"version": m.Version,
	}).Info("package published")

	return &Result{
		Version: pv,
		Message: fmt.Sprintf("Successfully published %s %s", m.Name, m.Version),
	}, nil
}

// authorize resolves the owning user for the publish and enforces
// scope and ownership rules.
func (s *Service) authorize(ctx context.Context, pkg string, token *storage.Token) (int64, error) {
	if token == nil {
		if s.requireAuth {
			return 0, ErrAuthRequired
		}
		return s.checkOwnership(ctx, pkg, storage.AnonymousUserID, false)
	}

	if !auth.CanPublish(token.Scopes, pkg) {
		return 0, ErrForbidden
	}
	bypass := auth.IsAdminScope(token.Scopes) || auth.HasScope(token.Scopes, auth.ScopePublishAll)
	return s.checkOwnership(ctx, pkg, token.UserID, bypass)
}

// checkOwnership allows the publish when the package is new, owned by
// the caller, or the caller holds admin or publish:all. Names held by
// the upstream cache are never publishable.
func (s *Service) checkOwnership(ctx context.Context, pkg string, userID int64, bypass bool) (int64, error) {
	existing, err := s.store.GetPackage(ctx, pkg)
	if storage.IsNotFound(err) {
		return userID, nil
	}
	if err != nil {
		return 0, err
	}
	if existing.IsUpstreamCache {
		return 0, invalidf("package name %q is held by the upstream cache", pkg)
	}
	if !bypass && existing.OwnerID != userID {
		return 0, ErrForbidden
	}
	return userID, nil
}
