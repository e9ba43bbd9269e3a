package sitemap

import (
	"net/url"
	"strings"
)

// PathPattern collapses a URL path into a coarse family key so pagination-like
// URL sets (/post/123, /post/456) count as one pattern during the BFS
// fallback. Numeric segments and long hex segments are generalized.
func PathPattern(u *url.URL) string {
	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	for i, seg := range segments {
		switch {
		case seg == "":
		case isNumeric(seg):
			segments[i] = "{n}"
		case isHexHash(seg):
			segments[i] = "{hex}"
		default:
			segments[i] = strings.ToLower(seg)
		}
	}
	return strings.ToLower(u.Hostname()) + "/" + strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// isHexHash reports whether the segment looks like a content hash. Short hex
// strings are too ambiguous with real words, so only length >= 8 qualifies.
func isHexHash(s string) bool {
	if len(s) < 8 {
		return false
	}
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return hasDigit
}
