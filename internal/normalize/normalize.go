// Package normalize provides the single endpoint-identifier normalization
// rule shared by every component that keys state by endpoint URL.
package normalize

import (
	"strings"
	"unicode"
)

// URL lower-cases s, trims leading/trailing whitespace and all trailing
// slashes, and prepends "https://" if neither "http://" nor "https://" is
// present. Normalization is idempotent: URL(URL(x)) == URL(x) for all x.
func URL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	scheme := "https://"
	if strings.HasPrefix(s, "http://") {
		scheme = "http://"
	}
	s = strings.TrimPrefix(s, scheme)
	s = strings.TrimRightFunc(s, func(r rune) bool { return r == '/' || unicode.IsSpace(r) })
	return scheme + s
}
