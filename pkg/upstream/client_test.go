package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeRegistry mimics the slice of the pub API the client uses.
type fakeRegistry struct {
	hits     atomic.Int64
	packages map[string]*PackageInfo
	archives map[string][]byte
	failAll  atomic.Bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		packages: map[string]*PackageInfo{},
		archives: map[string][]byte{},
	}
}

func (f *fakeRegistry) requests() int64 { return f.hits.Load() }

func (f *fakeRegistry) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/packages/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.failAll.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/packages/")
		name, version, _ := strings.Cut(rest, "/versions/")
		pi, ok := f.packages[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if version == "" {
			json.NewEncoder(w).Encode(pi)
			return
		}
		for _, vi := range pi.Versions {
			if vi.Version == version {
				json.NewEncoder(w).Encode(vi)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		q := r.URL.Query().Get("q")
		var resp searchResponse
		for name := range f.packages {
			if q == "" || strings.Contains(name, q) {
				resp.Packages = append(resp.Packages, struct {
					Package string `json:"package"`
				}{name})
			}
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/archives/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		data, ok := f.archives[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	})
	return mux
}

func (f *fakeRegistry) addPackage(srvURL, name string, versions ...string) {
	pi := &PackageInfo{Name: name}
	for _, v := range versions {
		vi := &VersionInfo{
			Version:    v,
			ArchiveURL: srvURL + "/archives/" + name + "-" + v + ".tar.gz",
			Pubspec:    map[string]interface{}{"name": name, "version": v},
		}
		pi.Versions = append(pi.Versions, vi)
		pi.Latest = vi
		f.archives["/archives/"+name+"-"+v+".tar.gz"] = []byte("archive:" + name + ":" + v)
	}
	f.packages[name] = pi
}

func TestGetPackageUsesLRU(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "http", "1.0.0", "1.1.0")

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	ctx := context.Background()
	pi, err := c.GetPackage(ctx, "http")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", pi.Latest.Version)
	assert.Len(t, pi.Versions, 2)

	before := reg.requests()
	pi2, err := c.GetPackage(ctx, "http")
	require.NoError(t, err)
	assert.Equal(t, pi, pi2)
	assert.Equal(t, before, reg.requests(), "second lookup must come from the LRU")
}

func TestGetPackageNotFound(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	_, err := c.GetPackage(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetVersion(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "http", "1.0.0")

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	vi, err := c.GetVersion(context.Background(), "http", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", vi.Version)
	assert.NotEmpty(t, vi.ArchiveURL)

	_, err = c.GetVersion(context.Background(), "http", "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchPackages(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "http", "1.0.0")
	reg.addPackage(srv.URL, "http_parser", "2.0.0")
	reg.addPackage(srv.URL, "yaml", "3.0.0")

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	names, err := c.SearchPackages(context.Background(), "http", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http", "http_parser"}, names)
}

func TestGetPackagesBatchSkipsMissing(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "alpha", "1.0.0")
	reg.addPackage(srv.URL, "beta", "2.0.0")

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	infos, err := c.GetPackagesBatch(context.Background(), []string{"alpha", "ghost", "beta"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.failAll.Store(true)

	c := NewClient(srv.URL, testLog())
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := c.GetVersion(ctx, "http", "1.0.0")
		require.ErrorIs(t, err, ErrUnavailable)
	}

	before := reg.requests()
	_, err := c.GetVersion(ctx, "http", "1.0.0")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, reg.requests(), "open breaker must not call upstream")
}

func TestRewriteArchiveURLs(t *testing.T) {
	pi := &PackageInfo{
		Name: "http",
		Versions: []*VersionInfo{
			{Version: "1.0.0", ArchiveURL: "https://pub.dev/x"},
			{Version: "1.1.0", ArchiveURL: "https://pub.dev/y"},
		},
	}
	pi.Latest = pi.Versions[1]

	RewriteArchiveURLs(pi, "http://registry.local:4000/")
	assert.Equal(t, "http://registry.local:4000/packages/http/versions/1.1.0.tar.gz", pi.Latest.ArchiveURL)
	assert.Equal(t, "http://registry.local:4000/packages/http/versions/1.0.0.tar.gz", pi.Versions[0].ArchiveURL)
}
