// Package clean turns raw fetched HTML into the normalized payload stored per
// page: cleaned HTML, markdown, metadata, and outbound links.
package clean

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gobwas/glob"
)

// alwaysRemove lists tags stripped from every page before any other cleaning.
var alwaysRemove = []string{"script", "style", "noscript", "meta", "head"}

// chromeTags are layout chrome removed when only_main_content is requested.
var chromeTags = []string{"header", "footer", "nav", "aside"}

// Options mirrors the page-level cleaning knobs.
type Options struct {
	// IncludeTags keeps only matching subtrees and short-circuits all other
	// cleaning.
	IncludeTags []string
	// ExcludeTags removes matching tags; wildcard-aware (e.g. "div.ad*").
	ExcludeTags []string
	// OnlyMainContent strips header/footer/nav/aside.
	OnlyMainContent bool
}

// HTML parses and cleans a page body according to opts, returning the cleaned
// document HTML.
func HTML(body []byte, opts Options) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if len(opts.IncludeTags) > 0 {
		return includeOnly(doc, opts.IncludeTags)
	}

	for _, tag := range alwaysRemove {
		doc.Find(tag).Remove()
	}

	if len(opts.ExcludeTags) > 0 {
		removeMatching(doc, opts.ExcludeTags)
	} else if opts.OnlyMainContent {
		for _, tag := range chromeTags {
			doc.Find(tag).Remove()
		}
	}

	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		html, err = doc.Html()
		if err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return html, nil
}

// includeOnly keeps only the subtrees matching the include selectors,
// concatenated in document order.
func includeOnly(doc *goquery.Document, includeTags []string) (string, error) {
	var sb strings.Builder
	for _, sel := range includeTags {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if html, err := goquery.OuterHtml(s); err == nil {
				sb.WriteString(html)
			}
		})
	}
	return sb.String(), nil
}

// removeMatching removes elements whose tag name glob-matches any pattern;
// patterns with CSS metacharacters are passed to goquery as selectors.
func removeMatching(doc *goquery.Document, patterns []string) {
	var globs []glob.Glob
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, ".#[> ") {
			doc.Find(p).Remove()
			continue
		}
		if g, err := glob.Compile(p); err == nil {
			globs = append(globs, g)
		}
	}
	if len(globs) == 0 {
		return
	}
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		for _, g := range globs {
			if g.Match(name) {
				s.Remove()
				return
			}
		}
	})
}

// Metadata collects title/description/language from the unmodified document.
func Metadata(body []byte, finalURL string) map[string]string {
	meta := map[string]string{"url": finalURL}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return meta
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		meta["title"] = t
	}
	if d, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		meta["description"] = strings.TrimSpace(d)
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		meta["language"] = strings.TrimSpace(lang)
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if _, have := meta["title"]; !have {
			meta["title"] = strings.TrimSpace(og)
		}
	}
	return meta
}
