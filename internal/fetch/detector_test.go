package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// TestDetectorPromotesEmptyBody flags pages whose static fetch produced nothing.
func TestDetectorPromotesEmptyBody(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	require.True(t, d.ShouldRender(crawl.Page{StatusCode: 200, Body: nil}))
}

// TestDetectorSkipsNon200 leaves error pages to the failure taxonomy.
func TestDetectorSkipsNon200(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	require.False(t, d.ShouldRender(crawl.Page{StatusCode: 404, Body: nil}))
	require.False(t, d.ShouldRender(crawl.Page{StatusCode: 500, Body: []byte("<html></html>")}))
}

// TestDetectorSPAMarkers promotes documents with framework mount points.
func TestDetectorSPAMarkers(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	for _, body := range []string{
		`<html><body><div id="root"></div></body></html>`,
		`<html><body><div id="app"></div></body></html>`,
		`<html><body><div data-reactroot></div></body></html>`,
		`<html><body><div id="__next"></div></body></html>`,
	} {
		require.True(t, d.ShouldRender(crawl.Page{StatusCode: 200, Body: []byte(body)}), "body %q", body)
	}
}

// TestDetectorScriptDensity promotes short script-heavy shells but not
// ordinary content pages.
func TestDetectorScriptDensity(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)

	shell := `<html><body><script>` + strings.Repeat("var x=1;", 100) + `</script><p>hi</p></body></html>`
	require.True(t, d.ShouldRender(crawl.Page{StatusCode: 200, Body: []byte(shell)}))

	content := `<html><body><article>` + strings.Repeat("Plenty of readable words here. ", 100) + `</article></body></html>`
	require.False(t, d.ShouldRender(crawl.Page{StatusCode: 200, Body: []byte(content)}))
}
