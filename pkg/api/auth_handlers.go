package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/storage"
)

// requireUser resolves the user session or writes a 401.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *storage.User {
	user, _, err := auth.UserFromRequest(r.Context(), s.Store, r)
	if err != nil {
		code := httputil.CodeAuthInvalid
		if errors.Is(err, auth.ErrSessionMissing) {
			code = httputil.CodeAuthMissing
		}
		httputil.WriteError(w, http.StatusUnauthorized, code, "sign in required")
		return nil
	}
	return user
}

// decryptPassword reverses the transport encryption or writes a 400.
func (s *Server) decryptPassword(w http.ResponseWriter, encrypted string) (string, bool) {
	password, err := s.Keypair.DecryptPassword(encrypted)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidPasswordFormat,
			"password is not encrypted against the current public key")
		return "", false
	}
	return password, true
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// register handles POST /api/auth/register.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !auth.ValidEmail(req.Email) {
		httputil.WriteValidationError(w, "invalid email address")
		return
	}
	password, ok := s.decryptPassword(w, req.Password)
	if !ok {
		return
	}
	if err := auth.ValidatePassword(password); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeWeakPassword, err.Error())
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	user, err := s.Store.CreateUser(r.Context(), req.Email, req.Name, hash)
	if err != nil {
		if storage.IsConflict(err) {
			httputil.WriteConflict(w, "an account with this email already exists")
			return
		}
		writeStoreError(w, err)
		return
	}

	sess, err := s.Store.CreateSession(r.Context(), user.ID, auth.UserSessionTTL)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	auth.SetSessionCookie(w, auth.UserSessionCookie, sess.ID, sess.ExpiresAt)

	s.Runner.Go("register activity", 0, func(ctx context.Context) error {
		s.Activity.UserRegistered(ctx, user.Email)
		return nil
	})
	httputil.WriteJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /api/auth/login.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	password, ok := s.decryptPassword(w, req.Password)
	if !ok {
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !user.IsActive || !auth.VerifyPassword(password, user.PasswordHash) {
		// One message for every failure mode, no account probing.
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthInvalid,
			"invalid email or password")
		return
	}

	sess, err := s.Store.CreateSession(r.Context(), user.ID, auth.UserSessionTTL)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = s.Store.TouchUserLogin(r.Context(), user.ID)
	auth.SetSessionCookie(w, auth.UserSessionCookie, sess.ID, sess.ExpiresAt)
	httputil.WriteJSON(w, http.StatusOK, user)
}

// logout handles POST /api/auth/logout.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.UserSessionCookie); err == nil && cookie.Value != "" {
		_ = s.Store.DeleteSession(r.Context(), cookie.Value)
	}
	auth.ClearSessionCookie(w, auth.UserSessionCookie)
	httputil.WriteSuccessMessage(w, "signed out")
}

// currentUser handles GET /api/auth/me.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// updateCurrentUser handles PUT /api/auth/me.
func (s *Server) updateCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var req updateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	upd := storage.UserUpdate{Name: req.Name}
	if req.Email != nil {
		if !auth.ValidEmail(*req.Email) {
			httputil.WriteValidationError(w, "invalid email address")
			return
		}
		upd.Email = req.Email
	}
	if req.Password != nil {
		password, ok := s.decryptPassword(w, *req.Password)
		if !ok {
			return
		}
		if err := auth.ValidatePassword(password); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeWeakPassword, err.Error())
			return
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		upd.PasswordHash = &hash
	}

	updated, err := s.Store.UpdateUser(r.Context(), user.ID, upd)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// listTokens handles GET /api/tokens. Listings expose prefix and
// metadata only, never the hash.
func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	tokens, err := s.Store.ListTokens(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

type createTokenRequest struct {
	Label         string   `json:"label"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// createToken handles POST /api/tokens. The plaintext appears in this
// response and nowhere else.
func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Label, "label") {
		return
	}
	if len(req.Scopes) == 0 {
		httputil.WriteValidationError(w, "at least one scope is required")
		return
	}
	for _, scope := range req.Scopes {
		if !auth.KnownScope(scope) {
			httputil.WriteValidationError(w, "unknown scope: "+scope)
			return
		}
	}

	plaintext, hash, prefix, err := auth.GenerateToken()
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	nt := storage.NewToken{
		UserID: user.ID,
		Hash:   hash,
		Prefix: prefix,
		Label:  req.Label,
		Scopes: req.Scopes,
	}
	if req.ExpiresInDays > 0 {
		expires := time.Now().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		nt.ExpiresAt = &expires
	}

	token, err := s.Store.CreateToken(r.Context(), nt)
	if err != nil {
		if storage.IsConflict(err) {
			httputil.WriteConflict(w, "a token with this label already exists")
			return
		}
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      plaintext,
		"id":         token.ID,
		"label":      token.Label,
		"prefix":     token.Prefix,
		"scopes":     token.Scopes,
		"expires_at": token.ExpiresAt,
	})
}

// deleteToken handles DELETE /api/tokens/{label}.
func (s *Server) deleteToken(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	label := httputil.PathVar(r, "label")
	if err := s.Store.DeleteToken(r.Context(), user.ID, label); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "token revoked")
}

// publicKey handles GET /api/public-key.
func (s *Server) publicKey(w http.ResponseWriter, r *http.Request) {
	modulus, exponent := s.Keypair.PublicKey()
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"modulus":  modulus,
		"exponent": exponent,
	})
}

// versionInfo handles GET /api/version.
func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":  s.opts.Version,
		"git_hash": s.opts.GitHash,
	})
}
