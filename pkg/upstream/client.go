package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors for upstream calls.
var (
	// ErrNotFound means the upstream registry does not know the
	// package or version.
	ErrNotFound = errors.New("not found upstream")
	// ErrUnavailable means the upstream registry could not be reached,
	// answered with a server error, or the breaker is open.
	ErrUnavailable = errors.New("upstream unavailable")
)

const (
	requestTimeout = 10 * time.Second

	// Breaker thresholds: open after five consecutive failures, probe
	// again after thirty seconds.
	breakerFailureThreshold = 5
	breakerRecoveryTimeout  = 30 * time.Second

	// Package documents are small and churn slowly; a few minutes of
	// caching absorbs resolver bursts without growing stale.
	packageCacheSize = 1024
	packageCacheTTL  = 5 * time.Minute

	// batchConcurrency bounds GetPackagesBatch fan-out.
	batchConcurrency = 5
)

// VersionInfo is one version as described by the upstream registry.
type VersionInfo struct {
	Version       string                 `json:"version"`
	ArchiveURL    string                 `json:"archive_url"`
	ArchiveSHA256 string                 `json:"archive_sha256,omitempty"`
	Retracted     bool                   `json:"retracted,omitempty"`
	Pubspec       map[string]interface{} `json:"pubspec"`
	Published     time.Time              `json:"published,omitempty"`
}

// PackageInfo is the upstream package document.
type PackageInfo struct {
	Name     string         `json:"name"`
	Latest   *VersionInfo   `json:"latest"`
	Versions []*VersionInfo `json:"versions"`
}

type fetchResult struct {
	status int
	body   []byte
}

// Client queries an upstream pub registry.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*fetchResult]
	cache   *lru.LRU[string, *PackageInfo]
	log     *logrus.Entry
}

// NewClient creates a client for the registry at base, for example
// https://pub.dev.
func NewClient(base string, log *logrus.Entry) *Client {
	c := &Client{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: requestTimeout},
		cache: lru.NewLRU[string, *PackageInfo](packageCacheSize, nil, packageCacheTTL),
		log:   log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*fetchResult](gobreaker.Settings{
		Name:    "upstream",
		Timeout: breakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warn("upstream breaker state changed")
		},
	})
	return c
}

// Close releases client resources.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// fetch runs one GET through the breaker. A 404 is a successful call
// for breaker accounting; only transport errors and 5xx count against
// it.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (*fetchResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.pub.v2+json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &fetchResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case res.status == http.StatusNotFound:
		return nil, ErrNotFound
	case res.status != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, res.status)
	}
	return res.body, nil
}

// GetPackage returns the upstream package document, served from the
// LRU when fresh.
func (c *Client) GetPackage(ctx context.Context, name string) (*PackageInfo, error) {
	if pi, ok := c.cache.Get(name); ok {
		return pi, nil
	}
	body, err := c.fetch(ctx, fmt.Sprintf("%s/api/packages/%s", c.base, url.PathEscape(name)))
	if err != nil {
		return nil, err
	}
	var pi PackageInfo
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("%w: malformed package document: %v", ErrUnavailable, err)
	}
	c.cache.Add(name, &pi)
	return &pi, nil
}

// GetVersion returns one version of an upstream package.
func (c *Client) GetVersion(ctx context.Context, name, version string) (*VersionInfo, error) {
	body, err := c.fetch(ctx, fmt.Sprintf("%s/api/packages/%s/versions/%s",
		c.base, url.PathEscape(name), url.PathEscape(version)))
	if err != nil {
		return nil, err
	}
	var vi VersionInfo
	if err := json.Unmarshal(body, &vi); err != nil {
		return nil, fmt.Errorf("%w: malformed version document: %v", ErrUnavailable, err)
	}
	return &vi, nil
}

type searchResponse struct {
	Packages []struct {
		Package string `json:"package"`
	} `json:"packages"`
	Next string `json:"next,omitempty"`
}

// SearchPackages returns one page of package names matching query.
func (c *Client) SearchPackages(ctx context.Context, query string, page int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", fmt.Sprintf("%d", page))
	body, err := c.fetch(ctx, fmt.Sprintf("%s/api/search?%s", c.base, q.Encode()))
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: malformed search response: %v", ErrUnavailable, err)
	}
	names := make([]string, 0, len(sr.Packages))
	for _, p := range sr.Packages {
		names = append(names, p.Package)
	}
	return names, nil
}

// GetPackagesBatch fetches several package documents with bounded
// concurrency. Missing packages are skipped; the first hard failure
// aborts the batch.
func (c *Client) GetPackagesBatch(ctx context.Context, names []string) ([]*PackageInfo, error) {
	sem := semaphore.NewWeighted(batchConcurrency)
	results := make([]*PackageInfo, len(names))
	errs := make([]error, len(names))

	for i, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(i int, name string) {
			defer sem.Release(1)
			pi, err := c.GetPackage(ctx, name)
			if err != nil && !errors.Is(err, ErrNotFound) {
				errs[i] = err
				return
			}
			results[i] = pi
		}(i, name)
	}
	if err := sem.Acquire(ctx, batchConcurrency); err != nil {
		return nil, err
	}

	out := make([]*PackageInfo, 0, len(names))
	for i := range names {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if results[i] != nil {
			out = append(out, results[i])
		}
	}
	return out, nil
}

// DownloadArchive fetches the archive bytes at rawURL.
func (c *Client) DownloadArchive(ctx context.Context, rawURL string) ([]byte, error) {
	return c.fetch(ctx, rawURL)
}

// RewriteArchiveURLs points every archive URL in pi at this server, so
// resolvers download through the caching proxy.
func RewriteArchiveURLs(pi *PackageInfo, baseURL string) {
	base := strings.TrimRight(baseURL, "/")
	rewrite := func(vi *VersionInfo) {
		if vi == nil {
			return
		}
		vi.ArchiveURL = fmt.Sprintf("%s/packages/%s/versions/%s.tar.gz",
			base, url.PathEscape(pi.Name), url.PathEscape(vi.Version))
	}
	rewrite(pi.Latest)
	for _, vi := range pi.Versions {
		rewrite(vi)
	}
}
