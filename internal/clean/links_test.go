package clean

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// TestExtractLinksResolvesAndFilters checks relative resolution, fragment
// stripping, dedup, and rule filtering in one pass.
func TestExtractLinksResolvesAndFilters(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<a href="/about">About</a>
		<a href="/about#team">Team</a>
		<a href="contact">Contact</a>
		<a href="https://example.com/pricing">Pricing</a>
		<a href="https://other.org/external">External</a>
		<a href="/file.pdf">Download</a>
		<a href="mailto:hi@example.com">Mail</a>
		<a href="#top">Top</a>
		<a href="">Empty</a>
	</body></html>`

	rules := urlfilter.NewRules("https://example.com", nil, nil, nil)
	links := ExtractLinks([]byte(body), "https://example.com/docs/", rules)

	require.ElementsMatch(t, []string{
		"https://example.com/about",
		"https://example.com/docs/contact",
		"https://example.com/pricing",
	}, links)
}

// TestExtractLinksDeduplicatesCaseInsensitively collapses host-case variants.
func TestExtractLinksDeduplicatesCaseInsensitively(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<a href="https://example.com/a">one</a>
		<a href="https://EXAMPLE.com/a">two</a>
	</body></html>`

	rules := urlfilter.NewRules("https://example.com", nil, nil, nil)
	links := ExtractLinks([]byte(body), "https://example.com/", rules)
	require.Len(t, links, 1)
}

// TestExtractLinksBadBase returns nothing when the base URL cannot be parsed.
func TestExtractLinksBadBase(t *testing.T) {
	t.Parallel()

	rules := urlfilter.NewRules("https://example.com", nil, nil, nil)
	links := ExtractLinks([]byte(`<a href="/x">x</a>`), "://bad", rules)
	require.Empty(t, links)
}
