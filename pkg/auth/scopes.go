package auth

import "strings"

// Capability scopes carried by API tokens. ScopeAdmin implies every
// capability; the publish scopes form a hierarchy from all packages
// down to a single named one.
const (
	ScopeAdmin      = "admin"
	ScopePublishAll = "publish:all"
	ScopeReadAll    = "read:all"

	publishPkgPrefix = "publish:pkg:"
)

// PublishScope returns the scope string that grants publishing exactly
// one package.
func PublishScope(pkg string) string {
	return publishPkgPrefix + pkg
}

// KnownScope reports whether s is a recognized scope string.
func KnownScope(s string) bool {
	switch s {
	case ScopeAdmin, ScopePublishAll, ScopeReadAll:
		return true
	}
	return strings.HasPrefix(s, publishPkgPrefix) && len(s) > len(publishPkgPrefix)
}

// CanRead reports whether the scope set grants package reads.
func CanRead(scopes []string) bool {
	for _, s := range scopes {
		switch s {
		case ScopeAdmin, ScopeReadAll:
			return true
		}
	}
	return false
}

// CanPublish reports whether the scope set grants publishing pkg.
func CanPublish(scopes []string, pkg string) bool {
	target := PublishScope(pkg)
	for _, s := range scopes {
		switch s {
		case ScopeAdmin, ScopePublishAll, target:
			return true
		}
	}
	return false
}

// HasScope reports whether the scope set contains scope exactly.
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdminScope reports whether the scope set carries the admin
// capability, which satisfies every predicate including ownership
// checks.
func IsAdminScope(scopes []string) bool {
	for _, s := range scopes {
		if s == ScopeAdmin {
			return true
		}
	}
	return false
}
