package clean

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Widget Catalog</title>
  <meta name="description" content="All the widgets.">
  <script src="/app.js"></script>
  <style>body{}</style>
</head>
<body>
  <header><a href="/">Home</a></header>
  <nav><a href="/catalog">Catalog</a></nav>
  <main>
    <h1>Widgets</h1>
    <p>We sell widgets.</p>
    <div class="ad-banner">Buy now!</div>
  </main>
  <aside>Related</aside>
  <footer>© Widget Co</footer>
</body>
</html>`

// TestHTMLRemovesScriptAndStyle ensures script/style/head content never
// reaches the cleaned output.
func TestHTMLRemovesScriptAndStyle(t *testing.T) {
	t.Parallel()

	out, err := HTML([]byte(samplePage), Options{})
	require.NoError(t, err)
	require.NotContains(t, out, "<script")
	require.NotContains(t, out, "<style")
	require.Contains(t, out, "We sell widgets.")
	require.Contains(t, out, "<footer>")
}

// TestHTMLOnlyMainContent strips header/footer/nav/aside.
func TestHTMLOnlyMainContent(t *testing.T) {
	t.Parallel()

	out, err := HTML([]byte(samplePage), Options{OnlyMainContent: true})
	require.NoError(t, err)
	require.Contains(t, out, "We sell widgets.")
	require.NotContains(t, out, "<header>")
	require.NotContains(t, out, "<footer>")
	require.NotContains(t, out, "<nav>")
	require.NotContains(t, out, "<aside>")
}

// TestHTMLIncludeTags keeps only the selected subtrees.
func TestHTMLIncludeTags(t *testing.T) {
	t.Parallel()

	out, err := HTML([]byte(samplePage), Options{IncludeTags: []string{"main"}})
	require.NoError(t, err)
	require.Contains(t, out, "<h1>Widgets</h1>")
	require.NotContains(t, out, "Home")
	require.NotContains(t, out, "footer")
}

// TestHTMLExcludeTags removes tags by name glob and by CSS selector.
func TestHTMLExcludeTags(t *testing.T) {
	t.Parallel()

	out, err := HTML([]byte(samplePage), Options{ExcludeTags: []string{"aside", "div.ad-banner"}})
	require.NoError(t, err)
	require.NotContains(t, out, "Related")
	require.NotContains(t, out, "Buy now!")
	require.Contains(t, out, "We sell widgets.")
}

// TestMetadata extracts title, description, language, and the final URL.
func TestMetadata(t *testing.T) {
	t.Parallel()

	meta := Metadata([]byte(samplePage), "https://widgets.example/catalog")
	require.Equal(t, "https://widgets.example/catalog", meta["url"])
	require.Equal(t, "Widget Catalog", meta["title"])
	require.Equal(t, "All the widgets.", meta["description"])
	require.Equal(t, "en", meta["language"])
}

// TestMetadataOGTitleFallback uses og:title when the title tag is missing.
func TestMetadataOGTitleFallback(t *testing.T) {
	t.Parallel()

	body := `<html><head><meta property="og:title" content="OG Widgets"></head><body></body></html>`
	meta := Metadata([]byte(body), "https://widgets.example/")
	require.Equal(t, "OG Widgets", meta["title"])
}

// TestToMarkdownBasicStructure converts headings and paragraphs.
func TestToMarkdownBasicStructure(t *testing.T) {
	t.Parallel()

	out, err := ToMarkdown("<h1>Widgets</h1><p>We sell <strong>widgets</strong>.</p>", "https://widgets.example/")
	require.NoError(t, err)
	require.Contains(t, out, "# Widgets")
	require.Contains(t, out, "**widgets**")
}

// TestStripNoise removes data URIs, SVG, leftover tags, and rewrites
// root-relative images.
func TestStripNoise(t *testing.T) {
	t.Parallel()

	in := "Intro\n\n![logo](data:image/png;base64,AAAA)\n\n<svg viewBox=\"0 0 1 1\"><path d=\"z\"/></svg>\n\n![hero](/img/hero.png)\n\n<div>leftover</div>\n\nOutro"
	out := StripNoise(in, "https://widgets.example/catalog")
	require.NotContains(t, out, "data:image")
	require.NotContains(t, out, "<svg")
	require.NotContains(t, out, "<div>")
	require.Contains(t, out, "![hero](https://widgets.example/img/hero.png)")
	require.NotContains(t, out, "\n\n\n")
}
