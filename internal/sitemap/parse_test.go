package sitemap

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc></url>
  <url><loc>https://example.com/about</loc></url>
  <url><loc>  https://example.com/contact  </loc></url>
  <url><loc></loc></url>
</urlset>`

const indexXML = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-pages.xml.gz</loc></sitemap>
</sitemapindex>`

// TestParseDocumentURLSet extracts trimmed leaf URLs and drops empty locs.
func TestParseDocumentURLSet(t *testing.T) {
	t.Parallel()

	nested, leaves, err := parseDocument([]byte(urlsetXML))
	require.NoError(t, err)
	require.Empty(t, nested)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/contact",
	}, leaves)
}

// TestParseDocumentIndex returns nested sitemap references.
func TestParseDocumentIndex(t *testing.T) {
	t.Parallel()

	nested, leaves, err := parseDocument([]byte(indexXML))
	require.NoError(t, err)
	require.Empty(t, leaves)
	require.Equal(t, []string{
		"https://example.com/sitemap-posts.xml",
		"https://example.com/sitemap-pages.xml.gz",
	}, nested)
}

// TestParseDocumentGarbage fails on non-XML content.
func TestParseDocumentGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := parseDocument([]byte("<html>not a sitemap</html>"))
	require.Error(t, err)
}

// TestDecompressByMagicBytes gunzips content without any gzip hints in the
// URL or content type.
func TestDecompressByMagicBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(urlsetXML))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := decompress(buf.Bytes(), "https://example.com/sitemap.xml", "application/xml")
	require.NoError(t, err)
	require.Equal(t, urlsetXML, string(out))
}

// TestDecompressPassthrough leaves plain XML untouched.
func TestDecompressPassthrough(t *testing.T) {
	t.Parallel()

	out, err := decompress([]byte(urlsetXML), "https://example.com/sitemap.xml", "application/xml")
	require.NoError(t, err)
	require.Equal(t, urlsetXML, string(out))
}

// TestDecompressCorruptGzip surfaces an error so the sitemap can be skipped.
func TestDecompressCorruptGzip(t *testing.T) {
	t.Parallel()

	_, err := decompress([]byte("this is not gzip"), "https://example.com/sitemap.xml.gz", "application/xml")
	require.Error(t, err)
}
