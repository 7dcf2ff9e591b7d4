package webhooks

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnsafeURL marks a webhook URL that points into private address
// space or uses a non-HTTP scheme.
var ErrUnsafeURL = errors.New("webhook URL is not allowed")

// Registry events a webhook may subscribe to. EventAll matches every
// event.
const (
	EventAll                 = "*"
	EventPackagePublished    = "package.published"
	EventPackageRetracted    = "package.retracted"
	EventPackageUnretracted  = "package.unretracted"
	EventPackageDeleted      = "package.deleted"
	EventPackageDiscontinued = "package.discontinued"
	EventPackageTransferred  = "package.transferred"
)

var knownEvents = map[string]struct{}{
	EventAll:                 {},
	EventPackagePublished:    {},
	EventPackageRetracted:    {},
	EventPackageUnretracted:  {},
	EventPackageDeleted:      {},
	EventPackageDiscontinued: {},
	EventPackageTransferred:  {},
}

// KnownEvent reports whether event is a recognized subscription value.
func KnownEvent(event string) bool {
	_, ok := knownEvents[event]
	return ok
}

// blockedHostPrefixes covers loopback, RFC 1918, link-local and ULA
// ranges by their textual form. 172.16/12 needs the octet check below.
var blockedHostPrefixes = []string{
	"127.", "10.", "192.168.", "169.254.", "fd00:", "fe80:",
}

// ValidateURL rejects URLs that cannot be safely called from the
// server: non-HTTP schemes and hosts inside loopback, private or
// link-local ranges. The check is textual on the host as written; it
// deliberately does not resolve DNS.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if host == "localhost" || host == "0.0.0.0" || host == "::1" {
		return fmt.Errorf("%w: host %q", ErrUnsafeURL, host)
	}
	for _, p := range blockedHostPrefixes {
		if strings.HasPrefix(host, p) {
			return fmt.Errorf("%w: host %q", ErrUnsafeURL, host)
		}
	}
	if blockedPrivate172(host) {
		return fmt.Errorf("%w: host %q", ErrUnsafeURL, host)
	}
	return nil
}

// blockedPrivate172 reports whether host sits in 172.16.0.0/12.
func blockedPrivate172(host string) bool {
	rest, ok := strings.CutPrefix(host, "172.")
	if !ok {
		return false
	}
	octet, _, ok := strings.Cut(rest, ".")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(octet)
	if err != nil {
		return false
	}
	return n >= 16 && n <= 31
}
