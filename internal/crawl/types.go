// Package crawl defines core types shared across the spider subsystems.
package crawl

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the orchestrator variant that handles a request.
type Kind string

// Request kinds dispatched through the task queue.
const (
	KindCrawl   Kind = "crawl"
	KindSitemap Kind = "sitemap"
	KindSearch  Kind = "search"
)

// PageOptions captures per-page fetch and cleaning knobs requested by the client.
type PageOptions struct {
	WaitTime        int      `json:"wait_time" mapstructure:"wait_time"`
	IncludeHTML     bool     `json:"include_html" mapstructure:"include_html"`
	IncludeLinks    bool     `json:"include_links" mapstructure:"include_links"`
	OnlyMainContent bool     `json:"only_main_content" mapstructure:"only_main_content"`
	IncludeTags     []string `json:"include_tags" mapstructure:"include_tags"`
	ExcludeTags     []string `json:"exclude_tags" mapstructure:"exclude_tags"`
	IgnoreRendering bool     `json:"ignore_rendering" mapstructure:"ignore_rendering"`
	Screenshot      bool     `json:"screenshot" mapstructure:"screenshot"`
}

// SpiderOptions bounds the crawl frontier.
type SpiderOptions struct {
	MaxDepth       int      `json:"max_depth" mapstructure:"max_depth"`
	PageLimit      int      `json:"page_limit" mapstructure:"page_limit"`
	AllowedDomains []string `json:"allowed_domains" mapstructure:"allowed_domains"`
	IncludePaths   []string `json:"include_paths" mapstructure:"include_paths"`
	ExcludePaths   []string `json:"exclude_paths" mapstructure:"exclude_paths"`
}

// SitemapOptions scopes sitemap discovery requests.
type SitemapOptions struct {
	Search            string   `json:"search" mapstructure:"search"`
	IgnoreSitemapXML  bool     `json:"ignore_sitemap_xml" mapstructure:"ignore_sitemap_xml"`
	IncludeSubdomains bool     `json:"include_subdomains" mapstructure:"include_subdomains"`
	IncludePaths      []string `json:"include_paths" mapstructure:"include_paths"`
	ExcludePaths      []string `json:"exclude_paths" mapstructure:"exclude_paths"`
	MaxURLs           int      `json:"max_urls" mapstructure:"max_urls"`
}

// Options bundles every knob a submitted request may carry.
type Options struct {
	Page    PageOptions    `json:"page_options" mapstructure:"page_options"`
	Spider  SpiderOptions  `json:"spider_options" mapstructure:"spider_options"`
	Sitemap SitemapOptions `json:"sitemap_options" mapstructure:"sitemap_options"`
	// Proxies overrides the service-wide proxy pool for this request.
	Proxies []ProxyServer `json:"proxy_servers,omitempty" mapstructure:"proxy_servers"`
}

// Request is the unit of work persisted for each submitted crawl, sitemap, or
// search job. Status transitions are owned exclusively by the orchestrator.
type Request struct {
	ID        uuid.UUID  `json:"id"`
	Kind      Kind       `json:"kind"`
	URL       string     `json:"url"`
	Options   Options    `json:"options"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	// Duration is set when the request reaches a terminal status.
	Duration time.Duration `json:"duration"`
	// SitemapURLs holds the ordered discovery result for sitemap requests.
	SitemapURLs []string `json:"sitemap_urls,omitempty"`
}

// Payload is the normalized per-page output of the fetch pipeline.
type Payload struct {
	Metadata map[string]string `json:"metadata"`
	Markdown string            `json:"markdown"`
	HTML     string            `json:"html,omitempty"`
	Links    []string          `json:"links,omitempty"`
}

// Result stores one fetched page. Immutable after creation.
type Result struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	URL       string    `json:"url"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentKind labels binary artifacts produced by JS rendering.
type AttachmentKind string

// Supported attachment kinds.
const (
	AttachmentScreenshot AttachmentKind = "screenshot"
	AttachmentPDF        AttachmentKind = "pdf"
)

// Attachment holds screenshot/PDF bytes for a result. At most one per kind.
type Attachment struct {
	ResultID uuid.UUID      `json:"result_id"`
	Kind     AttachmentKind `json:"kind"`
	Bytes    []byte         `json:"-"`
	BlobURI  string         `json:"blob_uri,omitempty"`
}

// LinkItem is the ephemeral record used for sitemap construction during a
// crawl. Items are deduplicated by the hash of their normalized URL.
type LinkItem struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Verified bool   `json:"verified"`
}

// ProxyType enumerates supported proxy transports.
type ProxyType string

// Proxy transports accepted by the fetch pipeline.
const (
	ProxyHTTP   ProxyType = "http"
	ProxySOCKS4 ProxyType = "socks4"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxyServer is collaborator-owned proxy configuration, consumed read-only
// by the fetch pipeline per request.
type ProxyServer struct {
	Type     ProxyType `json:"proxy_type" mapstructure:"proxy_type"`
	Host     string    `json:"host" mapstructure:"host"`
	Port     int       `json:"port" mapstructure:"port"`
	Username string    `json:"username,omitempty" mapstructure:"username"`
	Password string    `json:"password,omitempty" mapstructure:"password"`
}

// URL renders the proxy as a URL suitable for transport configuration.
func (p ProxyServer) URL() string {
	if p.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: string(p.Type),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// Page is the raw outcome of fetching a single URL, before cleaning.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Rendered   bool
	Duration   time.Duration
	// Attachments carries decoded rendering artifacts (screenshots, PDFs).
	Attachments []Attachment
}
