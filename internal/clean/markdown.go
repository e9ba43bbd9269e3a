package clean

import (
	"fmt"
	"net/url"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// ToMarkdown converts cleaned HTML to markdown. The converter emits no hard
// line wrapping, so document structure survives for downstream chunking.
func ToMarkdown(html string, pageURL string) (string, error) {
	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Host
	}
	converter := md.NewConverter(domain, true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return out, nil
}
