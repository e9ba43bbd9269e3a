package urlfilter

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Normalize standardizes a URL so that variants of the same page collapse to
// one canonical string. It lowercases the scheme and host, removes default
// ports, strips the fragment, and strips a trailing slash (except for the
// root path). Two URLs differing only by fragment or trailing slash are the
// same entity.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Hash returns the dedup key for a URL: the hex SHA-1 of its normalized,
// lowercased form. Both the link-discovery pipeline and the sitemap engine
// key their visited sets on this value.
func Hash(rawURL string) string {
	norm, err := Normalize(rawURL)
	if err != nil {
		norm = rawURL
	}
	sum := sha1.Sum([]byte(strings.ToLower(norm)))
	return hex.EncodeToString(sum[:])
}
