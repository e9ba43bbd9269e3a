// Package urlfilter decides which discovered URLs are worth fetching and
// provides the canonical normalization used for deduplication.
package urlfilter

import (
	"net/url"
	"path"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
)

// Rules captures the allow/deny configuration applied to every candidate URL.
type Rules struct {
	// AllowedDomains holds glob patterns matched against the URL host
	// (e.g. "*.example.com"). Empty means "derive from the seed URL".
	AllowedDomains []string
	// IncludePaths, when non-empty, requires the URL path to glob-match at
	// least one pattern.
	IncludePaths []string
	// ExcludePaths rejects a URL whose path glob-matches any pattern.
	ExcludePaths []string

	domainGlobs  []glob.Glob
	includeGlobs []glob.Glob
	excludeGlobs []glob.Glob
}

// NewRules compiles rule globs once. When allowedDomains is empty the rules
// default to "*.<registrable-domain-of-seed>" with a leading "www." stripped,
// so a crawl seeded at https://www.example.com/docs accepts sub.example.com.
func NewRules(seedURL string, allowedDomains, includePaths, excludePaths []string) Rules {
	if len(allowedDomains) == 0 {
		if d := registrableDomain(seedURL); d != "" {
			allowedDomains = []string{d, "*." + d}
		}
	}
	r := Rules{
		AllowedDomains: allowedDomains,
		IncludePaths:   includePaths,
		ExcludePaths:   excludePaths,
	}
	r.domainGlobs = compileGlobs(allowedDomains)
	r.includeGlobs = compileGlobs(includePaths)
	r.excludeGlobs = compileGlobs(excludePaths)
	return r
}

// IsAllowed reports whether the URL passes scheme, extension, domain, and
// path checks. Non-http(s) schemes (tel:, mailto:, javascript:) are rejected
// outright.
func (r Rules) IsAllowed(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if hasIgnoredExtension(u.Path) {
		return false
	}
	if !r.domainAllowed(strings.ToLower(u.Hostname())) {
		return false
	}
	return r.pathAllowed(u.Path)
}

func (r Rules) domainAllowed(host string) bool {
	if host == "" {
		return false
	}
	if len(r.domainGlobs) == 0 {
		return true
	}
	for _, g := range r.domainGlobs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// pathAllowed applies include-then-exclude: empty include means "allow
// unless excluded".
func (r Rules) pathAllowed(p string) bool {
	if p == "" {
		p = "/"
	}
	if len(r.includeGlobs) > 0 {
		matched := false
		for _, g := range r.includeGlobs {
			if g.Match(p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, g := range r.excludeGlobs {
		if g.Match(p) {
			return false
		}
	}
	return true
}

func hasIgnoredExtension(urlPath string) bool {
	ext := strings.TrimPrefix(path.Ext(path.Base(urlPath)), ".")
	if ext == "" {
		return false
	}
	return IgnoredExtension(strings.ToLower(ext))
}

func compileGlobs(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

// registrableDomain extracts the eTLD+1 of the seed URL, falling back to the
// bare host when the public suffix list has no answer.
func registrableDomain(seedURL string) string {
	u, err := url.Parse(seedURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if host == "" {
		return ""
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
