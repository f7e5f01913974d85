// Package endpoint derives stable endpoint keys from request paths. Circuit
// breaker state is tracked per endpoint, so volatile path segments (numeric
// IDs, UUIDs) are collapsed: /workorders/17 and /workorders/23 share one
// breaker under "GET /workorders/{id}".
package endpoint

import "strings"

// Key returns the endpoint identifier for a method and request path.
// Query strings are ignored; ID-like segments are replaced with "{id}".
func Key(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	segs := strings.Split(path, "/")
	for i, s := range segs {
		if isIDSegment(s) {
			segs[i] = "{id}"
		}
	}
	return strings.ToUpper(method) + " " + strings.Join(segs, "/")
}

// isIDSegment reports whether a path segment looks like a resource ID:
// all-numeric, or a 36-character hex-and-dash UUID.
func isIDSegment(s string) bool {
	if s == "" {
		return false
	}
	numeric := true
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			numeric = false
			break
		}
	}
	if numeric {
		return true
	}
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '-' && (i == 8 || i == 13 || i == 18 || i == 23):
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
