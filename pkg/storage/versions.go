package storage

import (
	"sort"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// CompareVersions orders two version strings. When both parse as
// semantic versions they compare by semver precedence. A parseable
// version sorts above an unparseable one, and two unparseable versions
// fall back to byte order so the ordering stays total.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(*vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// LatestVersion resolves the version a package's "latest" field should
// report: the highest non-retracted version, or the highest retracted
// one when every version is retracted. Returns nil for no versions.
func LatestVersion(versions []*PackageVersion) *PackageVersion {
	var active, any *PackageVersion
	for _, v := range versions {
		if any == nil || CompareVersions(v.Version, any.Version) > 0 {
			any = v
		}
		if v.IsRetracted {
			continue
		}
		if active == nil || CompareVersions(v.Version, active.Version) > 0 {
			active = v
		}
	}
	if active != nil {
		return active
	}
	return any
}

// SortVersions orders versions lowest-first by semver precedence, the
// order version listings are served in.
func SortVersions(versions []*PackageVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i].Version, versions[j].Version) < 0
	})
}
