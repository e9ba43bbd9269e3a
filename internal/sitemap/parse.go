package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlURL represents a <url> element in a sitemap.
type xmlURL struct {
	Loc string `xml:"loc"`
}

// xmlURLSet represents a <urlset> document.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

// xmlSitemapRef represents a <sitemap> element in a sitemap index.
type xmlSitemapRef struct {
	Loc string `xml:"loc"`
}

// xmlSitemapIndex represents a <sitemapindex> document.
type xmlSitemapIndex struct {
	XMLName  xml.Name        `xml:"sitemapindex"`
	Sitemaps []xmlSitemapRef `xml:"sitemap"`
}

const maxSitemapBytes = 16 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// decompress transparently gunzips sitemap bodies. Compression is detected by
// URL extension, content type, or the gzip magic bytes; corrupt gzip content
// returns an error so the caller can skip that sitemap.
func decompress(data []byte, rawURL, contentType string) ([]byte, error) {
	compressed := strings.HasSuffix(strings.ToLower(strings.SplitN(rawURL, "?", 2)[0]), ".gz") ||
		strings.Contains(contentType, "gzip") ||
		bytes.HasPrefix(data, gzipMagic)
	if !compressed {
		return data, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(io.LimitReader(reader, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("gunzip sitemap: %w", err)
	}
	return out, nil
}

// parseDocument parses one sitemap document. It returns nested sitemap URLs
// when the document is an index, or leaf page URLs when it is a urlset.
func parseDocument(data []byte) (nested []string, leaves []string, err error) {
	var index xmlSitemapIndex
	if errIndex := xml.Unmarshal(data, &index); errIndex == nil && len(index.Sitemaps) > 0 {
		for _, ref := range index.Sitemaps {
			if loc := strings.TrimSpace(ref.Loc); loc != "" {
				nested = append(nested, loc)
			}
		}
		return nested, nil, nil
	}

	var urlSet xmlURLSet
	if errSet := xml.Unmarshal(data, &urlSet); errSet != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml: %w", errSet)
	}
	for _, entry := range urlSet.URLs {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			leaves = append(leaves, loc)
		}
	}
	return nil, leaves, nil
}
