package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repub/pkg/activity"
	"github.com/platinummonkey/repub/pkg/async"
	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/publish"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/upstream"
	"github.com/platinummonkey/repub/pkg/webhooks"
)

// Deps are the core services the API server dispatches into.
type Deps struct {
	Store     storage.Store
	Hosted    blob.Store
	Cache     blob.Store
	Publisher *publish.Service
	Downloads *upstream.Downloads
	// Upstream is nil when the proxy is disabled.
	Upstream *upstream.Client
	Webhooks *webhooks.Service
	Activity *activity.Recorder
	Keypair  *auth.Keypair
	Runner   *async.Runner
	Log      *logrus.Entry
}

// Options are request-independent settings baked into the server.
type Options struct {
	BaseURL             string
	Version             string
	GitHash             string
	MaxUploadBytes      int64
	RequirePublishAuth  bool
	RequireDownloadAuth bool
	// WebDir and AdminDir mount the SPA bundles when non-empty.
	WebDir   string
	AdminDir string
}

// Server is the registry's HTTP handler.
type Server struct {
	Deps
	opts   Options
	router *mux.Router
}

// NewServer builds the router over the given services.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{Deps: deps, opts: opts, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures the full HTTP surface. Fixed paths register
// before parameterized ones so /api/packages/versions/new never
// resolves as a package named "versions".
func (s *Server) setupRoutes() {
	r := s.router

	// Package reads.
	r.HandleFunc("/api/packages", s.listPackages).Methods("GET")
	r.HandleFunc("/api/packages/search/upstream", s.searchUpstream).Methods("GET")
	r.HandleFunc("/api/packages/search", s.searchPackages).Methods("GET")

	// Publish flow.
	r.HandleFunc("/api/packages/versions/new", s.startPublish).Methods("GET")
	r.HandleFunc("/api/packages/versions/upload/{session}", s.uploadArchive).Methods("POST")
	r.HandleFunc("/api/packages/versions/finalize/{session}", s.finalizePublish).Methods("GET")

	r.HandleFunc("/api/packages/{name}", s.getPackage).Methods("GET")
	r.HandleFunc("/api/packages/{name}/stats", s.packageStats).Methods("GET")
	r.HandleFunc("/api/packages/{name}/versions/{version}", s.getPackageVersion).Methods("GET")

	// Archive downloads.
	r.HandleFunc("/packages/{name}/versions/{version}.tar.gz", s.downloadArchive).Methods("GET")

	// User auth and tokens.
	r.HandleFunc("/api/auth/register", s.register).Methods("POST")
	r.HandleFunc("/api/auth/login", s.login).Methods("POST")
	r.HandleFunc("/api/auth/logout", s.logout).Methods("POST")
	r.HandleFunc("/api/auth/me", s.currentUser).Methods("GET")
	r.HandleFunc("/api/auth/me", s.updateCurrentUser).Methods("PUT")
	r.HandleFunc("/api/tokens", s.listTokens).Methods("GET")
	r.HandleFunc("/api/tokens", s.createToken).Methods("POST")
	r.HandleFunc("/api/tokens/{label}", s.deleteToken).Methods("DELETE")

	r.HandleFunc("/api/public-key", s.publicKey).Methods("GET")
	r.HandleFunc("/api/version", s.versionInfo).Methods("GET")

	// Admin realm.
	r.HandleFunc("/admin/api/auth/login", s.adminLogin).Methods("POST")
	r.HandleFunc("/admin/api/auth/logout", s.adminLogout).Methods("POST")
	r.HandleFunc("/admin/api/auth/me", s.adminCurrentUser).Methods("GET")
	r.HandleFunc("/admin/api/auth/change-password", s.adminChangePassword).Methods("POST")

	r.HandleFunc("/admin/api/stats", s.adminStats).Methods("GET")
	r.HandleFunc("/admin/api/analytics/downloads", s.adminAnalyticsDownloads).Methods("GET")
	r.HandleFunc("/admin/api/analytics/packages", s.adminAnalyticsPackages).Methods("GET")
	r.HandleFunc("/admin/api/activity", s.adminActivity).Methods("GET")
	r.HandleFunc("/admin/api/audit/logins", s.adminLoginAudit).Methods("GET")

	r.HandleFunc("/admin/api/users", s.adminListUsers).Methods("GET")
	r.HandleFunc("/admin/api/users/{id}", s.adminUpdateUser).Methods("PUT")
	r.HandleFunc("/admin/api/users/{id}", s.adminDeleteUser).Methods("DELETE")

	r.HandleFunc("/admin/api/packages", s.adminListPackages).Methods("GET")
	r.HandleFunc("/admin/api/packages/{name}", s.adminDeletePackage).Methods("DELETE")
	r.HandleFunc("/admin/api/packages/{name}/transfer", s.adminTransferPackage).Methods("POST")
	r.HandleFunc("/admin/api/packages/{name}/discontinue", s.adminDiscontinuePackage).Methods("POST")
	r.HandleFunc("/admin/api/packages/{name}/versions/{version}", s.adminDeleteVersion).Methods("DELETE")
	r.HandleFunc("/admin/api/packages/{name}/versions/{version}/retract", s.adminRetractVersion).Methods("POST")
	r.HandleFunc("/admin/api/packages/{name}/versions/{version}/unretract", s.adminUnretractVersion).Methods("POST")

	r.HandleFunc("/admin/api/webhooks", s.adminListWebhooks).Methods("GET")
	r.HandleFunc("/admin/api/webhooks", s.adminCreateWebhook).Methods("POST")
	r.HandleFunc("/admin/api/webhooks/{id}", s.adminUpdateWebhook).Methods("PUT")
	r.HandleFunc("/admin/api/webhooks/{id}", s.adminDeleteWebhook).Methods("DELETE")
	r.HandleFunc("/admin/api/webhooks/{id}/test", s.adminTestWebhook).Methods("POST")
	r.HandleFunc("/admin/api/webhooks/{id}/deliveries", s.adminWebhookDeliveries).Methods("GET")

	r.HandleFunc("/admin/api/config", s.adminListConfig).Methods("GET")
	r.HandleFunc("/admin/api/config/{name}", s.adminSetConfig).Methods("PUT")

	r.HandleFunc("/admin/api/cache/clear", s.adminClearCache).Methods("POST")

	// Static SPA bundles, when configured.
	if s.opts.AdminDir != "" {
		r.PathPrefix("/admin/").Handler(
			http.StripPrefix("/admin/", http.FileServer(http.Dir(s.opts.AdminDir))))
	}
	if s.opts.WebDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.WebDir)))
	}
}

// writeStoreError maps a storage error onto the envelope.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsNotFound(err):
		httputil.WriteNotFound(w, "not found")
	case storage.IsConflict(err):
		httputil.WriteConflict(w, "already exists")
	case storage.IsInvalid(err):
		httputil.WriteValidationError(w, err.Error())
	default:
		httputil.WriteStorageError(w)
	}
}
