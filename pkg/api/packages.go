package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/upstream"
)

// archiveURL derives the download URL served in metadata responses.
func (s *Server) archiveURL(name, version string) string {
	return fmt.Sprintf("%s/packages/%s/versions/%s.tar.gz",
		strings.TrimRight(s.opts.BaseURL, "/"), url.PathEscape(name), url.PathEscape(version))
}

// decorate fills the derived archive URLs of a package document.
func (s *Server) decorate(pi *storage.PackageInfo) *storage.PackageInfo {
	if pi.Latest != nil {
		pi.Latest.ArchiveURL = s.archiveURL(pi.Name, pi.Latest.Version)
	}
	for _, v := range pi.Versions {
		v.ArchiveURL = s.archiveURL(pi.Name, v.Version)
	}
	return pi
}

type packageList struct {
	Packages []*storage.PackageInfo `json:"packages"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	Limit    int                    `json:"limit"`
}

// listPackages handles GET /api/packages.
func (s *Server) listPackages(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParseQueryInt(r, "page", 1)
	limit := httputil.ParseQueryInt(r, "limit", 20)
	filter := storage.PackageFilter{Kind: httputil.ParseQueryString(r, "kind", "")}

	infos, total, err := s.Store.ListPackages(r.Context(), filter, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, pi := range infos {
		s.decorate(pi)
	}
	page, limit = storage.ClampPaging(page, limit)
	httputil.WriteJSON(w, http.StatusOK, packageList{Packages: infos, Total: total, Page: page, Limit: limit})
}

// searchPackages handles GET /api/packages/search.
func (s *Server) searchPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := httputil.ParseQueryInt(r, "page", 1)
	limit := httputil.ParseQueryInt(r, "limit", 20)

	infos, total, err := s.Store.SearchPackages(r.Context(), query, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, pi := range infos {
		s.decorate(pi)
	}
	page, limit = storage.ClampPaging(page, limit)
	httputil.WriteJSON(w, http.StatusOK, packageList{Packages: infos, Total: total, Page: page, Limit: limit})
}

// searchUpstream handles GET /api/packages/search/upstream.
func (s *Server) searchUpstream(w http.ResponseWriter, r *http.Request) {
	if s.Upstream == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, httputil.CodeUpstreamDisabled,
			"upstream proxy is disabled")
		return
	}
	query := r.URL.Query().Get("q")
	page := httputil.ParseQueryInt(r, "page", 1)

	names, err := s.Upstream.SearchPackages(r.Context(), query, page)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeUpstreamError,
			"upstream search failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"packages": names, "page": page})
}

// getPackage handles GET /api/packages/{name}, falling through to the
// upstream registry on a local miss so resolvers see mirrored metadata
// with local download URLs.
func (s *Server) getPackage(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")

	pi, err := s.Store.GetPackageInfo(r.Context(), name)
	if err == nil {
		httputil.WriteJSON(w, http.StatusOK, s.decorate(pi))
		return
	}
	if !storage.IsNotFound(err) {
		writeStoreError(w, err)
		return
	}

	if s.Upstream == nil {
		httputil.WriteNotFound(w, fmt.Sprintf("package %s not found", name))
		return
	}
	upi, err := s.Upstream.GetPackage(r.Context(), name)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			httputil.WriteNotFound(w, fmt.Sprintf("package %s not found", name))
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeUpstreamError,
			"upstream lookup failed")
		return
	}
	upstream.RewriteArchiveURLs(upi, s.opts.BaseURL)
	httputil.WriteJSON(w, http.StatusOK, upi)
}

// getPackageVersion handles GET /api/packages/{name}/versions/{version}.
func (s *Server) getPackageVersion(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")
	version := httputil.PathVar(r, "version")

	pv, err := s.Store.GetPackageVersion(r.Context(), name, version)
	if err == nil {
		pv.ArchiveURL = s.archiveURL(name, version)
		httputil.WriteJSON(w, http.StatusOK, pv)
		return
	}
	if !storage.IsNotFound(err) {
		writeStoreError(w, err)
		return
	}

	if s.Upstream == nil {
		httputil.WriteNotFound(w, fmt.Sprintf("%s %s not found", name, version))
		return
	}
	vi, err := s.Upstream.GetVersion(r.Context(), name, version)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			httputil.WriteNotFound(w, fmt.Sprintf("%s %s not found", name, version))
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeUpstreamError,
			"upstream lookup failed")
		return
	}
	vi.ArchiveURL = s.archiveURL(name, vi.Version)
	httputil.WriteJSON(w, http.StatusOK, vi)
}

// packageStats handles GET /api/packages/{name}/stats.
func (s *Server) packageStats(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")
	days := httputil.ParseQueryInt(r, "days", 30)
	if days < 1 || days > 365 {
		days = 30
	}
	stats, err := s.Store.GetPackageDownloadStats(r.Context(), name, time.Now().AddDate(0, 0, -days))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// downloadArchive handles GET /packages/{name}/versions/{version}.tar.gz
// through the read-through cache.
func (s *Server) downloadArchive(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")
	version := httputil.PathVar(r, "version")

	if s.opts.RequireDownloadAuth {
		ta := auth.AuthenticateToken(r.Context(), s.Store, r)
		switch ta.Status {
		case auth.TokenMissing:
			httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthMissing, ta.Message)
			return
		case auth.TokenInvalid:
			httputil.WriteError(w, http.StatusUnauthorized, httputil.CodeAuthInvalid, ta.Message)
			return
		}
		if !auth.CanRead(ta.Token.Scopes) {
			httputil.WriteError(w, http.StatusForbidden, httputil.CodeAuthForbidden,
				"token does not grant package reads")
			return
		}
	}

	rec := &storage.DownloadRecord{
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if u, ok := s.Downloads.SignedURL(r.Context(), name, version, rec); ok {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	data, err := s.Downloads.Fetch(r.Context(), name, version, rec)
	if err != nil {
		switch {
		case storage.IsNotFound(err) || errors.Is(err, blob.ErrNotFound):
			httputil.WriteNotFound(w, fmt.Sprintf("%s %s not found", name, version))
		case errors.Is(err, upstream.ErrUnavailable):
			httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeUpstreamError,
				"upstream fetch failed")
		default:
			writeStoreError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-%s.tar.gz"`, name, version))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // client disconnects are not actionable
}
