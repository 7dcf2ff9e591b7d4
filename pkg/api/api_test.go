package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repub/pkg/activity"
	"github.com/platinummonkey/repub/pkg/async"
	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/mail"
	"github.com/platinummonkey/repub/pkg/publish"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/storage/sqlite"
	"github.com/platinummonkey/repub/pkg/upstream"
	"github.com/platinummonkey/repub/pkg/webhooks"
)

type testEnv struct {
	srv     *Server
	store   storage.Store
	keypair *auth.Keypair
	runner  *async.Runner
}

// newTestEnv wires a full server over a fresh sqlite store. mutate
// tweaks the options before the server is built.
func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	log := logrus.NewEntry(logrus.New())

	store, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })

	hosted := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "hosted"))
	cache := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "cache"))

	keypair, err := auth.NewKeypair()
	require.NoError(t, err)

	opts := Options{
		BaseURL:        "http://repub.test",
		Version:        "test",
		MaxUploadBytes: 10 << 20,
	}
	if mutate != nil {
		mutate(&opts)
	}

	runner := async.NewRunner(context.Background(), log)
	deps := Deps{
		Store:     store,
		Hosted:    hosted,
		Cache:     cache,
		Publisher: publish.NewService(store, hosted, log, publish.Options{RequireAuth: opts.RequirePublishAuth}),
		Downloads: upstream.NewDownloads(store, hosted, cache, nil, log),
		Webhooks:  webhooks.NewService(store, mail.NewLogMailer(log), log),
		Activity:  activity.NewRecorder(store, log),
		Keypair:   keypair,
		Runner:    runner,
		Log:       log,
	}
	return &testEnv{
		srv:     NewServer(deps, opts),
		store:   store,
		keypair: keypair,
		runner:  runner,
	}
}

func (e *testEnv) do(method, path string, body []byte, hdr http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for key, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(method, path, body, http.Header{"Content-Type": []string{"application/json"}}, cookies...)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dest))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env httputil.ErrorEnvelope
	decodeBody(t, rr, &env)
	return env.Error.Code
}

func successMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env httputil.SuccessEnvelope
	decodeBody(t, rr, &env)
	return env.Success.Message
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// makeArchive builds a gzipped tarball holding the given files.
func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func pubspecArchive(t *testing.T, name, version string) []byte {
	t.Helper()
	return makeArchive(t, map[string]string{
		"pubspec.yaml":  "name: " + name + "\nversion: " + version + "\n",
		"lib/main.dart": "void main() {}\n",
	})
}

// startSession walks the new-version handshake and returns the upload
// session id extracted from the upload URL.
func (e *testEnv) startSession(t *testing.T, hdr http.Header) string {
	t.Helper()
	rr := e.do(http.MethodGet, "/api/packages/versions/new", nil, hdr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		URL string `json:"url"`
	}
	decodeBody(t, rr, &resp)
	require.Contains(t, resp.URL, "/api/packages/versions/upload/")
	return resp.URL[len("http://repub.test/api/packages/versions/upload/"):]
}

// publishPackage runs the full three-step flow and returns the finalize
// response.
func (e *testEnv) publishPackage(t *testing.T, name, version string, hdr http.Header) *httptest.ResponseRecorder {
	t.Helper()
	session := e.startSession(t, hdr)

	rr := e.do(http.MethodPost, "/api/packages/versions/upload/"+session, pubspecArchive(t, name, version), nil)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	require.Equal(t, "http://repub.test/api/packages/versions/finalize/"+session, rr.Header().Get("Location"))

	return e.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, hdr)
}

func (e *testEnv) seedToken(t *testing.T, email string, scopes ...string) (string, *storage.User) {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword("s3cret-Passw0rd")
	require.NoError(t, err)
	user, err := e.store.CreateUser(ctx, email, "Test User", hash)
	require.NoError(t, err)

	plaintext, tokenHash, prefix, err := auth.GenerateToken()
	require.NoError(t, err)
	_, err = e.store.CreateToken(ctx, storage.NewToken{
		UserID: user.ID,
		Hash:   tokenHash,
		Prefix: prefix,
		Label:  "ci",
		Scopes: scopes,
	})
	require.NoError(t, err)
	return plaintext, user
}

func TestPublishFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.publishPackage(t, "alpha", "1.0.0", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Successfully published alpha 1.0.0", successMessage(t, rr))

	rr = env.do(http.MethodGet, "/api/packages/alpha", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var pi struct {
		Name   string `json:"name"`
		Latest struct {
			Version    string `json:"version"`
			ArchiveURL string `json:"archive_url"`
		} `json:"latest"`
		Versions []json.RawMessage `json:"versions"`
	}
	decodeBody(t, rr, &pi)
	assert.Equal(t, "alpha", pi.Name)
	assert.Equal(t, "1.0.0", pi.Latest.Version)
	assert.Equal(t, "http://repub.test/packages/alpha/versions/1.0.0.tar.gz", pi.Latest.ArchiveURL)
	assert.Len(t, pi.Versions, 1)

	// Side effects run in the background.
	require.True(t, env.runner.Wait(5*time.Second))
	entries, _, err := env.store.ListActivity(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, activity.ActionPublish, entries[0].Action)
	assert.Equal(t, "alpha", entries[0].PackageName)
}

func TestPublishMultipartUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.startSession(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "package.tar.gz")
	require.NoError(t, err)
	_, err = part.Write(pubspecArchive(t, "beta", "0.1.0"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session, buf.Bytes(),
		http.Header{"Content-Type": []string{mw.FormDataContentType()}})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = env.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Successfully published beta 0.1.0", successMessage(t, rr))
}

func TestPublishDuplicateVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.publishPackage(t, "alpha", "1.0.0", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.publishPackage(t, "alpha", "1.0.0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, httputil.CodeVersionExists, errorCode(t, rr))
}

func TestPublishFinalizeTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.startSession(t, nil)

	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session, pubspecArchive(t, "gamma", "1.0.0"), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// The session is consumed by the first finalize.
	rr = env.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxUploadBytes = 64 })
	session := env.startSession(t, nil)

	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session,
		pubspecArchive(t, "big_pkg", "1.0.0"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, httputil.CodePayloadTooLarge, errorCode(t, rr))
}

func TestUploadEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.startSession(t, nil)

	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, httputil.CodeEmptyUpload, errorCode(t, rr))
}

func TestUploadUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodPost, "/api/packages/versions/upload/no-such-session",
		pubspecArchive(t, "alpha", "1.0.0"), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPublishInvalidArchive(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.startSession(t, nil)

	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session,
		makeArchive(t, map[string]string{"README.md": "no pubspec here"}), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, httputil.CodeValidationError, errorCode(t, rr))
}

func TestPublishAuthRequired(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RequirePublishAuth = true })

	rr := env.do(http.MethodGet, "/api/packages/versions/new", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, httputil.CodeAuthMissing, errorCode(t, rr))

	token, _ := env.seedToken(t, "dev@example.com", auth.ScopePublishAll)
	rr = env.publishPackage(t, "alpha", "1.0.0", bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestPublishGarbageToken(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/api/packages/versions/new", nil, bearer("repub_bogus"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, httputil.CodeAuthInvalid, errorCode(t, rr))
}

func TestPublishScopeForbidden(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RequirePublishAuth = true })
	token, _ := env.seedToken(t, "dev@example.com", auth.PublishScope("other_pkg"))

	rr := env.publishPackage(t, "alpha", "1.0.0", bearer(token))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, httputil.CodeAuthForbidden, errorCode(t, rr))
}

func TestPublishOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RequirePublishAuth = true })
	owner, _ := env.seedToken(t, "owner@example.com", auth.PublishScope("alpha"))
	scoped, _ := env.seedToken(t, "scoped@example.com", auth.PublishScope("alpha"))
	fleet, _ := env.seedToken(t, "fleet@example.com", auth.ScopePublishAll)

	rr := env.publishPackage(t, "alpha", "1.0.0", bearer(owner))
	require.Equal(t, http.StatusOK, rr.Code)

	// A package-scoped token of a non-owner is rejected.
	rr = env.publishPackage(t, "alpha", "1.1.0", bearer(scoped))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// publish:all overrides ownership.
	rr = env.publishPackage(t, "alpha", "1.1.0", bearer(fleet))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.publishPackage(t, "alpha", "1.2.0", bearer(owner))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDownloadArchive(t *testing.T) {
	env := newTestEnv(t, nil)
	archive := pubspecArchive(t, "alpha", "1.0.0")

	session := env.startSession(t, nil)
	rr := env.do(http.MethodPost, "/api/packages/versions/upload/"+session, archive, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(http.MethodGet, "/api/packages/versions/finalize/"+session, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/packages/alpha/versions/1.0.0.tar.gz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "alpha-1.0.0.tar.gz")
	assert.Equal(t, archive, rr.Body.Bytes())

	rr = env.do(http.MethodGet, "/packages/alpha/versions/9.9.9.tar.gz", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type signingStore struct {
	blob.Store
}

func (s signingStore) SignedURL(ctx context.Context, key string) (string, error) {
	return "https://cdn.example.test/" + key, nil
}

func TestDownloadRedirectsWhenBackendSigns(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.publishPackage(t, "alpha", "1.0.0", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	env.srv.Downloads = upstream.NewDownloads(env.store, signingStore{env.srv.Hosted},
		env.srv.Cache, nil, env.srv.Log)

	rr = env.do(http.MethodGet, "/packages/alpha/versions/1.0.0.tar.gz", nil, nil)
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "https://cdn.example.test/alpha/")
}

func TestDownloadAuthRequired(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RequireDownloadAuth = true })
	rr := env.publishPackage(t, "alpha", "1.0.0", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/packages/alpha/versions/1.0.0.tar.gz", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	writeOnly, _ := env.seedToken(t, "writer@example.com", auth.ScopePublishAll)
	rr = env.do(http.MethodGet, "/packages/alpha/versions/1.0.0.tar.gz", nil, bearer(writeOnly))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	reader, _ := env.seedToken(t, "reader@example.com", auth.ScopeReadAll)
	rr = env.do(http.MethodGet, "/packages/alpha/versions/1.0.0.tar.gz", nil, bearer(reader))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListAndSearchPackages(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"alpha", "beta", "alphabet"} {
		rr := env.publishPackage(t, name, "1.0.0", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := env.do(http.MethodGet, "/api/packages", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list packageList
	decodeBody(t, rr, &list)
	assert.Equal(t, int64(3), list.Total)

	rr = env.do(http.MethodGet, "/api/packages/search?q=alpha", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &list)
	assert.Equal(t, int64(2), list.Total)
}

func TestGetPackageNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/api/packages/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, httputil.CodeNotFound, errorCode(t, rr))
}

func TestSearchUpstreamDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/api/packages/search/upstream?q=http", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, httputil.CodeUpstreamDisabled, errorCode(t, rr))
}

func TestUpstreamFallthrough(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/packages/http" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{
			"name": "http",
			"latest": {"version": "1.2.0", "archive_url": "https://pub.dev/archives/http-1.2.0.tar.gz", "pubspec": {"name": "http"}},
			"versions": [{"version": "1.2.0", "archive_url": "https://pub.dev/archives/http-1.2.0.tar.gz", "pubspec": {"name": "http"}}]
		}`)
	}))
	defer fake.Close()

	env := newTestEnv(t, nil)
	env.srv.Upstream = upstream.NewClient(fake.URL, logrus.NewEntry(logrus.New()))

	rr := env.do(http.MethodGet, "/api/packages/http", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var pi upstream.PackageInfo
	decodeBody(t, rr, &pi)
	require.NotNil(t, pi.Latest)
	assert.Equal(t, "http://repub.test/packages/http/versions/1.2.0.tar.gz", pi.Latest.ArchiveURL)

	rr = env.do(http.MethodGet, "/api/packages/unknown_pkg", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVersionEndpoint(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Version = "1.4.0"
		o.GitHash = "abc123"
	})
	rr := env.do(http.MethodGet, "/api/version", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	decodeBody(t, rr, &resp)
	assert.Equal(t, "1.4.0", resp["version"])
	assert.Equal(t, "abc123", resp["git_hash"])
}

func TestPublicKeyEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/api/public-key", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	decodeBody(t, rr, &resp)
	modulus, exponent := env.keypair.PublicKey()
	assert.Equal(t, modulus, resp["modulus"])
	assert.Equal(t, exponent, resp["exponent"])
}
