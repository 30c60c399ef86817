package csp

import (
	"net/url"
	"strings"
)

// StripQuery removes everything from the first "?" onward. The query
// string is irrelevant to CSP source matching.
func StripQuery(raw string) string {
	if raw == "" {
		return raw
	}
	if i := strings.Index(raw, "?"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// StripFragment removes the "#fragment" part of a URL. Values without a
// scheme are returned unchanged.
func StripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

// StripPath reduces a URL to scheme://host, dropping path, query and
// fragment. Values without a scheme or host (bare hosts, "data:" style
// scheme-only sources) are returned unchanged.
func StripPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	if u.Host == "" {
		// scheme only - must keep its trailing ":" intact
		return raw
	}
	return u.Scheme + "://" + u.Host
}
