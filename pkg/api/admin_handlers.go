package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/webhooks"
)

// requireAdmin resolves the admin session or writes a 401. Unless
// allowPending is set, an admin who still has to change the bootstrap
// password is locked out of everything but the auth endpoints.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, allowPending bool) *storage.AdminUser {
	admin, _, err := auth.AdminFromRequest(r.Context(), s.Store, r)
	if err != nil {
		code := httputil.CodeAuthInvalid
		if errors.Is(err, auth.ErrSessionMissing) {
			code = httputil.CodeAuthMissing
		}
		httputil.WriteError(w, http.StatusUnauthorized, code, "admin sign in required")
		return nil
	}
	if admin.MustChangePassword && !allowPending {
		httputil.WriteError(w, http.StatusForbidden, httputil.CodePasswordChangeNeeded,
			"password change required before using the admin API")
		return nil
	}
	return admin
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminLogin handles POST /admin/api/auth/login. Every attempt lands in
// the login audit, successful or not.
func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	password, ok := s.decryptPassword(w, req.Password)
	if !ok {
		return
	}

	audit := storage.AdminLoginRecord{
		Username:  req.Username,
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}

	admin, err := s.Store.GetAdminUserByUsername(r.Context(), req.Username)
	if err != nil || !admin.IsActive || !auth.VerifyPassword(password, admin.PasswordHash) {
		_ = s.Store.RecordAdminLogin(r.Context(), audit)
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthInvalid,
			"invalid username or password")
		return
	}

	sess, err := s.Store.CreateAdminSession(r.Context(), admin.ID, auth.AdminSessionTTL)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	audit.Success = true
	_ = s.Store.RecordAdminLogin(r.Context(), audit)
	_ = s.Store.TouchAdminLogin(r.Context(), admin.ID)
	auth.SetSessionCookie(w, auth.AdminSessionCookie, sess.ID, sess.ExpiresAt)
	httputil.WriteJSON(w, http.StatusOK, admin)
}

// adminLogout handles POST /admin/api/auth/logout.
func (s *Server) adminLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.AdminSessionCookie); err == nil && cookie.Value != "" {
		_ = s.Store.DeleteAdminSession(r.Context(), cookie.Value)
	}
	auth.ClearSessionCookie(w, auth.AdminSessionCookie)
	httputil.WriteSuccessMessage(w, "signed out")
}

// adminCurrentUser handles GET /admin/api/auth/me.
func (s *Server) adminCurrentUser(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, true)
	if admin == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, admin)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// adminChangePassword handles POST /admin/api/auth/change-password.
// Changing the password clears the bootstrap must-change flag.
func (s *Server) adminChangePassword(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, true)
	if admin == nil {
		return
	}
	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	current, ok := s.decryptPassword(w, req.CurrentPassword)
	if !ok {
		return
	}
	if !auth.VerifyPassword(current, admin.PasswordHash) {
		httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthInvalid,
			"current password is incorrect")
		return
	}
	next, ok := s.decryptPassword(w, req.NewPassword)
	if !ok {
		return
	}
	if err := auth.ValidatePassword(next); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeWeakPassword, err.Error())
		return
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	if err := s.Store.UpdateAdminPassword(r.Context(), admin.ID, hash); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "password changed")
}

// adminStats handles GET /admin/api/stats.
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	stats, err := s.Store.GetAdminStats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// adminAnalyticsDownloads handles GET /admin/api/analytics/downloads.
func (s *Server) adminAnalyticsDownloads(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	hours := httputil.ParseQueryInt(r, "hours", 24)
	if hours < 1 || hours > 24*30 {
		hours = 24
	}
	buckets, err := s.Store.DownloadsPerHour(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"downloads": buckets})
}

// adminAnalyticsPackages handles GET /admin/api/analytics/packages.
func (s *Server) adminAnalyticsPackages(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	days := httputil.ParseQueryInt(r, "days", 30)
	if days < 1 || days > 365 {
		days = 30
	}
	buckets, err := s.Store.PackagesCreatedPerDay(r.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"packages": buckets})
}

// adminActivity handles GET /admin/api/activity.
func (s *Server) adminActivity(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	page := httputil.ParseQueryInt(r, "page", 1)
	limit := httputil.ParseQueryInt(r, "limit", 50)
	entries, total, err := s.Store.ListActivity(r.Context(), page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"activity": entries, "total": total})
}

// adminLoginAudit handles GET /admin/api/audit/logins.
func (s *Server) adminLoginAudit(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	page := httputil.ParseQueryInt(r, "page", 1)
	limit := httputil.ParseQueryInt(r, "limit", 50)
	logins, total, err := s.Store.ListAdminLogins(r.Context(), page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"logins": logins, "total": total})
}

// adminListUsers handles GET /admin/api/users.
func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	page := httputil.ParseQueryInt(r, "page", 1)
	limit := httputil.ParseQueryInt(r, "limit", 50)
	users, total, err := s.Store.ListUsers(r.Context(), page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": total})
}

type adminUserUpdateRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	IsActive *bool   `json:"is_active"`
}

// adminUpdateUser handles PUT /admin/api/users/{id}.
func (s *Server) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req adminUserUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email != nil && !auth.ValidEmail(*req.Email) {
		httputil.WriteValidationError(w, "invalid email address")
		return
	}
	user, err := s.Store.UpdateUser(r.Context(), id, storage.UserUpdate{
		Name:     req.Name,
		Email:    req.Email,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// adminDeleteUser handles DELETE /admin/api/users/{id}. The user's
// packages fall back to the anonymous sentinel.
func (s *Server) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.Store.DeleteUser(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "user deleted")
}

// adminListPackages handles GET /admin/api/packages.
func (s *Server) adminListPackages(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	s.listPackages(w, r)
}

// adminDeletePackage handles DELETE /admin/api/packages/{name}. Blobs
// are removed in the background after the metadata transaction.
func (s *Server) adminDeletePackage(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")

	pkg, err := s.Store.GetPackage(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	keys, err := s.Store.DeletePackage(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	blobs := s.Hosted
	if pkg.IsUpstreamCache {
		blobs = s.Cache
	}
	s.Runner.Go("delete package blobs", 2*time.Minute, func(ctx context.Context) error {
		for _, key := range keys {
			if err := blobs.Delete(ctx, key); err != nil {
				s.Log.WithError(err).WithField("key", key).Warn("failed to delete archive")
			}
		}
		s.Activity.PackageDeleted(ctx, name, "", admin.Username)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackageDeleted,
			map[string]interface{}{"package": name})
	})
	httputil.WriteSuccessMessage(w, "package deleted")
}

// adminDeleteVersion handles
// DELETE /admin/api/packages/{name}/versions/{version}.
func (s *Server) adminDeleteVersion(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")
	version := httputil.PathVar(r, "version")

	pkg, err := s.Store.GetPackage(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	key, err := s.Store.DeletePackageVersion(r.Context(), name, version)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	blobs := s.Hosted
	if pkg.IsUpstreamCache {
		blobs = s.Cache
	}
	s.Runner.Go("delete version blob", time.Minute, func(ctx context.Context) error {
		if err := blobs.Delete(ctx, key); err != nil {
			s.Log.WithError(err).WithField("key", key).Warn("failed to delete archive")
		}
		s.Activity.PackageDeleted(ctx, name, version, admin.Username)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackageDeleted,
			map[string]interface{}{"package": name, "version": version})
	})
	httputil.WriteSuccessMessage(w, "version deleted")
}

type retractRequest struct {
	Message string `json:"message"`
}

// adminRetractVersion handles
// POST /admin/api/packages/{name}/versions/{version}/retract.
func (s *Server) adminRetractVersion(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")
	version := httputil.PathVar(r, "version")

	var req retractRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.Store.RetractPackageVersion(r.Context(), name, version, req.Message); err != nil {
		writeStoreError(w, err)
		return
	}
	s.Runner.Go("retract side effects", 0, func(ctx context.Context) error {
		s.Activity.PackageRetracted(ctx, name, version, admin.Username, req.Message)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackageRetracted,
			map[string]interface{}{"package": name, "version": version, "message": req.Message})
	})
	httputil.WriteSuccessMessage(w, "version retracted")
}

// adminUnretractVersion handles
// POST /admin/api/packages/{name}/versions/{version}/unretract.
func (s *Server) adminUnretractVersion(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")
	version := httputil.PathVar(r, "version")

	if err := s.Store.UnretractPackageVersion(r.Context(), name, version); err != nil {
		writeStoreError(w, err)
		return
	}
	s.Runner.Go("unretract side effects", 0, func(ctx context.Context) error {
		s.Activity.PackageUnretracted(ctx, name, version, admin.Username)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackageUnretracted,
			map[string]interface{}{"package": name, "version": version})
	})
	httputil.WriteSuccessMessage(w, "version unretracted")
}

type transferRequest struct {
	NewOwnerID int64 `json:"new_owner_id"`
}

// adminTransferPackage handles POST /admin/api/packages/{name}/transfer.
func (s *Server) adminTransferPackage(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")
	var req transferRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.NewOwnerID <= 0 {
		httputil.WriteValidationError(w, "new_owner_id is required")
		return
	}
	if err := s.Store.TransferPackage(r.Context(), name, req.NewOwnerID); err != nil {
		writeStoreError(w, err)
		return
	}
	newOwner := ""
	if user, err := s.Store.GetUser(r.Context(), req.NewOwnerID); err == nil {
		newOwner = user.Email
	}
	s.Runner.Go("transfer side effects", 0, func(ctx context.Context) error {
		s.Activity.PackageTransferred(ctx, name, admin.Username, newOwner)
		return s.Webhooks.Dispatch(ctx, webhooks.EventPackageTransferred,
			map[string]interface{}{"package": name, "new_owner": newOwner})
	})
	httputil.WriteSuccessMessage(w, "ownership transferred")
}

type discontinueRequest struct {
	Discontinued *bool  `json:"discontinued"`
	ReplacedBy   string `json:"replaced_by"`
}

// adminDiscontinuePackage handles
// POST /admin/api/packages/{name}/discontinue.
func (s *Server) adminDiscontinuePackage(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	name := httputil.PathVar(r, "name")
	var req discontinueRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	discontinued := true
	if req.Discontinued != nil {
		discontinued = *req.Discontinued
	}
	if err := s.Store.SetPackageDiscontinued(r.Context(), name, discontinued, req.ReplacedBy); err != nil {
		writeStoreError(w, err)
		return
	}
	if discontinued {
		s.Runner.Go("discontinue side effects", 0, func(ctx context.Context) error {
			s.Activity.PackageDiscontinued(ctx, name, admin.Username, req.ReplacedBy)
			return s.Webhooks.Dispatch(ctx, webhooks.EventPackageDiscontinued,
				map[string]interface{}{"package": name, "replaced_by": req.ReplacedBy})
		})
	}
	httputil.WriteSuccessMessage(w, "package updated")
}

// adminListWebhooks handles GET /admin/api/webhooks. Secrets never
// appear in listings.
func (s *Server) adminListWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	hooks, err := s.Store.ListWebhooks(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func validateWebhookRequest(w http.ResponseWriter, url string, events []string) bool {
	if err := webhooks.ValidateURL(url); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidURL, err.Error())
		return false
	}
	if len(events) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidEvent,
			"at least one event is required")
		return false
	}
	for _, event := range events {
		if !webhooks.KnownEvent(event) {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidEvent,
				"unknown event: "+event)
			return false
		}
	}
	return true
}

// adminCreateWebhook handles POST /admin/api/webhooks.
func (s *Server) adminCreateWebhook(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	var req webhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !validateWebhookRequest(w, req.URL, req.Events) {
		return
	}
	hook, err := s.Store.CreateWebhook(r.Context(), storage.NewWebhook{
		URL:    req.URL,
		Secret: req.Secret,
		Events: req.Events,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, hook)
}

type webhookUpdateRequest struct {
	URL      *string  `json:"url"`
	Secret   *string  `json:"secret"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

// adminUpdateWebhook handles PUT /admin/api/webhooks/{id}.
func (s *Server) adminUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req webhookUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.URL != nil {
		if err := webhooks.ValidateURL(*req.URL); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidURL, err.Error())
			return
		}
	}
	for _, event := range req.Events {
		if !webhooks.KnownEvent(event) {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeInvalidEvent,
				"unknown event: "+event)
			return
		}
	}
	hook, err := s.Store.UpdateWebhook(r.Context(), id, storage.WebhookUpdate{
		URL:      req.URL,
		Secret:   req.Secret,
		Events:   req.Events,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hook)
}

// adminDeleteWebhook handles DELETE /admin/api/webhooks/{id}.
func (s *Server) adminDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.Store.DeleteWebhook(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "webhook deleted")
}

// adminTestWebhook handles POST /admin/api/webhooks/{id}/test: one
// synchronous synthetic delivery, returning the delivery row.
func (s *Server) adminTestWebhook(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	hook, err := s.Store.GetWebhook(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	delivery := s.Webhooks.Deliver(r.Context(), hook, "webhook.test", map[string]interface{}{
		"message": "test delivery from repub",
	})
	httputil.WriteJSON(w, http.StatusOK, delivery)
}

// adminWebhookDeliveries handles GET /admin/api/webhooks/{id}/deliveries.
func (s *Server) adminWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	limit := httputil.ParseQueryInt(r, "limit", 50)
	deliveries, err := s.Store.ListWebhookDeliveries(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

// adminListConfig handles GET /admin/api/config.
func (s *Server) adminListConfig(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	configs, err := s.Store.ListSiteConfig(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"config": configs})
}

type siteConfigRequest struct {
	Value     string `json:"value"`
	ValueType string `json:"value_type"`
}

// adminSetConfig handles PUT /admin/api/config/{name}.
func (s *Server) adminSetConfig(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r, false) == nil {
		return
	}
	name := strings.TrimSpace(httputil.PathVar(r, "name"))
	if name == "" {
		httputil.WriteValidationError(w, "config name is required")
		return
	}
	var req siteConfigRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.ValueType {
	case "":
		req.ValueType = "string"
	case "string", "number", "boolean":
	default:
		httputil.WriteValidationError(w, "value_type must be string, number or boolean")
		return
	}
	if err := s.Store.SetSiteConfig(r.Context(), name, req.Value, req.ValueType); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "configuration updated")
}

// adminClearCache handles POST /admin/api/cache/clear: drop every
// upstream-cached package and its archives.
func (s *Server) adminClearCache(w http.ResponseWriter, r *http.Request) {
	admin := s.requireAdmin(w, r, false)
	if admin == nil {
		return
	}
	count, keys, err := s.Store.PurgeCachedPackages(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.Runner.Go("purge cache blobs", 5*time.Minute, func(ctx context.Context) error {
		for _, key := range keys {
			if err := s.Cache.Delete(ctx, key); err != nil {
				s.Log.WithError(err).WithField("key", key).Warn("failed to delete cached archive")
			}
		}
		s.Activity.CachePurged(ctx, admin.Username, count)
		return nil
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"packages_removed": count,
		"archives_removed": len(keys),
	})
}
