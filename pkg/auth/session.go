package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/repub/pkg/storage"
)

// Cookie names for the two session realms. A cookie carries only the
// opaque session id; the server never accepts a session id as a bearer
// token or vice versa.
const (
	UserSessionCookie  = "repub_session"
	AdminSessionCookie = "repub_admin_session"
)

// Session lifetimes per realm.
const (
	UserSessionTTL  = 30 * 24 * time.Hour
	AdminSessionTTL = 8 * time.Hour
)

// Session resolution errors.
var (
	ErrSessionMissing = errors.New("session cookie missing")
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionExpired = errors.New("session expired")
)

// UserFromRequest materializes the user behind the request's session
// cookie. Expired sessions are deleted on sight.
func UserFromRequest(ctx context.Context, store storage.Store, r *http.Request) (*storage.User, *storage.Session, error) {
	sess, err := sessionFromCookie(ctx, r, UserSessionCookie, store.GetSession, store.DeleteSession)
	if err != nil {
		return nil, nil, err
	}
	user, err := store.GetUser(ctx, sess.UserID)
	if err != nil || !user.IsActive {
		return nil, nil, ErrSessionInvalid
	}
	return user, sess, nil
}

// AdminFromRequest materializes the admin behind the request's admin
// session cookie.
func AdminFromRequest(ctx context.Context, store storage.Store, r *http.Request) (*storage.AdminUser, *storage.Session, error) {
	sess, err := sessionFromCookie(ctx, r, AdminSessionCookie, store.GetAdminSession, store.DeleteAdminSession)
	if err != nil {
		return nil, nil, err
	}
	admin, err := store.GetAdminUser(ctx, sess.UserID)
	if err != nil || !admin.IsActive {
		return nil, nil, ErrSessionInvalid
	}
	return admin, sess, nil
}

func sessionFromCookie(
	ctx context.Context,
	r *http.Request,
	cookieName string,
	get func(context.Context, string) (*storage.Session, error),
	del func(context.Context, string) error,
) (*storage.Session, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrSessionMissing
	}
	sess, err := get(ctx, cookie.Value)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if sess.ExpiresAt.Before(time.Now()) {
		_ = del(ctx, sess.ID)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// SetSessionCookie writes a session cookie for the given realm.
func SetSessionCookie(w http.ResponseWriter, name, sessionID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the named session cookie.
func ClearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
