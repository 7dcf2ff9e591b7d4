package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(version string, retracted bool) *PackageVersion {
	return &PackageVersion{Version: version, IsRetracted: retracted}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.0.0", "1.0.0", 0},
		{"minor bump", "1.1.0", "1.0.0", 1},
		{"numeric not lexicographic", "1.10.0", "1.9.0", 1},
		{"prerelease below release", "2.0.0-beta.1", "2.0.0", -1},
		{"prerelease ordering", "1.0.0-alpha", "1.0.0-beta", -1},
		{"build metadata ignored", "1.0.0+build.5", "1.0.0", 0},
		{"parseable beats unparseable", "0.0.1", "not-a-version", 1},
		{"unparseable fall back to bytes", "aaa", "bbb", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareVersions(tt.a, tt.b)
			assert.Equal(t, tt.want, sign(got))
			assert.Equal(t, -tt.want, sign(CompareVersions(tt.b, tt.a)))
		})
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func TestLatestVersionPrefersActive(t *testing.T) {
	versions := []*PackageVersion{
		v("1.0.0", false),
		v("2.0.0", true),
		v("1.5.0", false),
	}
	latest := LatestVersion(versions)
	require.NotNil(t, latest)
	assert.Equal(t, "1.5.0", latest.Version)
}

func TestLatestVersionAllRetracted(t *testing.T) {
	versions := []*PackageVersion{
		v("1.0.0", true),
		v("2.0.0", true),
	}
	latest := LatestVersion(versions)
	require.NotNil(t, latest)
	assert.Equal(t, "2.0.0", latest.Version)
	assert.True(t, latest.IsRetracted)
}

func TestLatestVersionSkipsPrereleaseOnlyWhenHigherStableExists(t *testing.T) {
	versions := []*PackageVersion{
		v("1.0.0", false),
		v("1.1.0-dev.3", false),
	}
	latest := LatestVersion(versions)
	require.NotNil(t, latest)
	// Prereleases are still versions; the highest precedence wins.
	assert.Equal(t, "1.1.0-dev.3", latest.Version)
}

func TestLatestVersionEmpty(t *testing.T) {
	assert.Nil(t, LatestVersion(nil))
	assert.Nil(t, LatestVersion([]*PackageVersion{}))
}

func TestSortVersions(t *testing.T) {
	versions := []*PackageVersion{
		v("2.0.0", false),
		v("1.0.0", false),
		v("1.10.0", false),
		v("1.2.0", false),
	}
	SortVersions(versions)
	got := make([]string, len(versions))
	for i, pv := range versions {
		got[i] = pv.Version
	}
	assert.Equal(t, []string{"1.0.0", "1.2.0", "1.10.0", "2.0.0"}, got)
}

func TestClampPaging(t *testing.T) {
	tests := []struct {
		name                string
		page, limit         int
		wantPage, wantLimit int
	}{
		{"defaults pass through", 1, 20, 1, 20},
		{"zero page", 0, 20, 1, 20},
		{"negative page", -5, 20, 1, 20},
		{"page above max", 20000, 20, MaxPage, 20},
		{"zero limit", 1, 0, 1, 1},
		{"limit above max", 1, 500, 1, MaxPageLimit},
		{"boundary limit", 1, 100, 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := ClampPaging(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}
