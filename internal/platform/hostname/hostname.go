// Package hostname turns browser URLs into the domain keys aggregates are
// tracked under.
package hostname

import (
	"net/url"
	"regexp"
	"strings"
)

var label = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)*[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// Valid reports whether host is a lowercase DNS-label-like name.
func Valid(host string) bool {
	return host != "" && len(host) <= 253 && label.MatchString(host)
}

// FromURL extracts the trackable domain of a web URL. Non-web schemes such
// as chrome:// or about: are not trackable.
func FromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !Valid(host) {
		return "", false
	}
	return host, true
}
