package clean

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	dataURIImage  = regexp.MustCompile(`!\[[^\]]*\]\(data:image/[^)]*\)`)
	inlineSVG     = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	leftoverTags  = regexp.MustCompile(`(?s)<[^>]+>`)
	relativeImage = regexp.MustCompile(`!\[([^\]]*)\]\((/[^)]*)\)`)
)

// StripNoise removes inline/base64 image payloads and leftover HTML from
// markdown, and rewrites root-relative image links to absolute URLs using the
// page's own origin.
func StripNoise(markdown string, pageURL string) string {
	out := dataURIImage.ReplaceAllString(markdown, "")
	out = inlineSVG.ReplaceAllString(out, "")
	out = leftoverTags.ReplaceAllString(out, "")

	if origin := pageOrigin(pageURL); origin != "" {
		out = relativeImage.ReplaceAllString(out, "![$1]("+origin+"$2)")
	}

	// Collapse the blank-line runs left behind by removed blocks.
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func pageOrigin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
