package urlfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewRulesDerivesDomainsFromSeed checks the default domain scope is the
// seed's registrable domain plus subdomains, ignoring a www prefix.
func TestNewRulesDerivesDomainsFromSeed(t *testing.T) {
	t.Parallel()

	r := NewRules("https://www.example.com/docs", nil, nil, nil)
	require.ElementsMatch(t, []string{"example.com", "*.example.com"}, r.AllowedDomains)

	require.True(t, r.IsAllowed("https://example.com/about"))
	require.True(t, r.IsAllowed("https://blog.example.com/post"))
	require.True(t, r.IsAllowed("https://www.example.com/"))
	require.False(t, r.IsAllowed("https://example.org/about"))
	require.False(t, r.IsAllowed("https://notexample.com/"))
}

// TestRulesExplicitDomainGlobs checks user-supplied globs override derivation.
func TestRulesExplicitDomainGlobs(t *testing.T) {
	t.Parallel()

	r := NewRules("https://example.com", []string{"docs.example.com", "*.partner.io"}, nil, nil)
	require.True(t, r.IsAllowed("https://docs.example.com/x"))
	require.True(t, r.IsAllowed("https://api.partner.io/x"))
	require.False(t, r.IsAllowed("https://example.com/x"))
}

// TestRulesIncludeExcludePaths checks include-then-exclude path semantics.
func TestRulesIncludeExcludePaths(t *testing.T) {
	t.Parallel()

	r := NewRules("https://example.com", nil, []string{"/blog/*"}, []string{"/blog/drafts/*"})
	require.True(t, r.IsAllowed("https://example.com/blog/post-1"))
	require.False(t, r.IsAllowed("https://example.com/about"))
	require.False(t, r.IsAllowed("https://example.com/blog/drafts/wip"))
}

// TestRulesRejectsNonHTTPSchemes covers tel:, mailto:, javascript:, ftp:.
func TestRulesRejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	r := NewRules("https://example.com", nil, nil, nil)
	for _, raw := range []string{
		"mailto:hi@example.com",
		"tel:+15551234567",
		"javascript:void(0)",
		"ftp://example.com/file",
	} {
		require.False(t, r.IsAllowed(raw), "expected %q to be rejected", raw)
	}
}

// TestRulesRejectsBinaryExtensions checks the file-type blocklist applies.
func TestRulesRejectsBinaryExtensions(t *testing.T) {
	t.Parallel()

	r := NewRules("https://example.com", nil, nil, nil)
	require.False(t, r.IsAllowed("https://example.com/report.pdf"))
	require.False(t, r.IsAllowed("https://example.com/pic.JPG"))
	require.False(t, r.IsAllowed("https://example.com/bundle.tar.gz"))
	require.True(t, r.IsAllowed("https://example.com/page.html"))
	require.True(t, r.IsAllowed("https://example.com/docs"))
}

// TestIgnoredExtension spot-checks the extension table.
func TestIgnoredExtension(t *testing.T) {
	t.Parallel()

	require.True(t, IgnoredExtension("pdf"))
	require.True(t, IgnoredExtension("woff2"))
	require.True(t, IgnoredExtension("exe"))
	require.False(t, IgnoredExtension("html"))
	require.False(t, IgnoredExtension("htm"))
	require.False(t, IgnoredExtension(""))
}
