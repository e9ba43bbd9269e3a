package clean

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// ExtractLinks collects anchor hrefs from the unmodified document, resolves
// them against the response's own URL, deduplicates case-insensitively, and
// yields only candidates the filter rules accept.
func ExtractLinks(body []byte, baseURL string, rules urlfilter.Rules) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		candidate := abs.String()
		key := strings.ToLower(candidate)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if rules.IsAllowed(candidate) {
			links = append(links, candidate)
		}
	})
	return links
}
