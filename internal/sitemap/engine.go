// Package sitemap implements the discovery engine that resolves a site's URL
// inventory, preferring declared sitemaps over crawling: robots.txt
// directives, then common sitemap paths, then a BFS fallback, then a
// search-engine fallback.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/clean"
	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/fetch"
	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// ErrNothingFound indicates every discovery phase was exhausted without a
// single URL. The orchestrator treats it as a fatal request error.
var ErrNothingFound = errors.New("sitemap discovery exhausted all phases")

// Config bounds the discovery engine. The BFS depth and per-page pattern caps
// are deliberate heuristics against pagination explosion and are tunable.
type Config struct {
	// MaxDepth caps the BFS fallback depth (default 5).
	MaxDepth int
	// PatternsPerPage caps how many newly discovered path patterns are
	// followed per page during BFS (default 10).
	PatternsPerPage int
	// DefaultMaxURLs applies when the request does not set max_urls.
	DefaultMaxURLs int
	// SearchPages caps pagination of the search-engine fallback (default 5).
	SearchPages int
	// FetchTimeout applies to each sitemap document fetch.
	FetchTimeout time.Duration
	UserAgent    string
}

func (c *Config) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 5
	}
	if c.PatternsPerPage <= 0 {
		c.PatternsPerPage = 10
	}
	if c.DefaultMaxURLs <= 0 {
		c.DefaultMaxURLs = 5000
	}
	if c.SearchPages <= 0 {
		c.SearchPages = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}

// Engine runs one discovery per call. Sitemap documents are processed
// sequentially (one in flight) to avoid hammering the target's sitemap
// endpoint; only the BFS fallback fetches pages through the shared fetcher.
type Engine struct {
	cfg     Config
	client  *http.Client
	fetcher crawl.Fetcher
	robots  *fetch.RobotsPolicy
	search  crawl.SearchClient
	logger  *zap.Logger
}

// NewEngine wires the engine. The search client may be nil, which disables
// the final fallback phase.
func NewEngine(cfg Config, fetcher crawl.Fetcher, robots *fetch.RobotsPolicy, search crawl.SearchClient, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		fetcher: fetcher,
		robots:  robots,
		search:  search,
		logger:  logger,
	}
}

// collector accumulates discovered URLs in order, deduplicated by the
// normalized-URL hash shared with the link pipeline.
type collector struct {
	urls    []string
	seen    map[string]struct{}
	maxURLs int
}

func newCollector(maxURLs int) *collector {
	return &collector{seen: make(map[string]struct{}), maxURLs: maxURLs}
}

// add records the URL if unseen. It reports whether the collector is full.
func (c *collector) add(rawURL string) bool {
	key := urlfilter.Hash(rawURL)
	if _, ok := c.seen[key]; !ok {
		c.seen[key] = struct{}{}
		norm, err := urlfilter.Normalize(rawURL)
		if err != nil {
			norm = rawURL
		}
		c.urls = append(c.urls, norm)
	}
	return len(c.urls) >= c.maxURLs
}

func (c *collector) full() bool { return len(c.urls) >= c.maxURLs }

// Discover resolves the site's URL inventory for the given seed. Reaching
// max_urls is a normal early stop; ErrNothingFound is returned only when all
// phases yield nothing.
func (e *Engine) Discover(ctx context.Context, seedURL string, opts crawl.SitemapOptions) ([]string, error) {
	seed, err := url.Parse(strings.TrimSpace(seedURL))
	if err != nil || seed.Hostname() == "" {
		return nil, fmt.Errorf("parse seed url %q: %w", seedURL, err)
	}

	rules := e.buildRules(seed, opts)
	maxURLs := opts.MaxURLs
	if maxURLs <= 0 {
		maxURLs = e.cfg.DefaultMaxURLs
	}
	out := newCollector(maxURLs)
	searchTerm := strings.ToLower(strings.TrimSpace(opts.Search))
	logger := e.logger.With(zap.String("seed", seed.String()))

	if !opts.IgnoreSitemapXML {
		if err := e.discoverFromSitemaps(ctx, seed, rules, searchTerm, out, logger); err != nil {
			return nil, err
		}
	}

	if len(out.urls) == 0 {
		logger.Info("no sitemap urls found, falling back to bfs crawl")
		if err := e.bfsCrawl(ctx, seed, rules, searchTerm, out, logger); err != nil {
			return nil, err
		}
	}

	if len(out.urls) == 0 && e.search != nil {
		logger.Info("bfs yielded nothing, falling back to search engine")
		if err := e.searchFallback(ctx, seed, searchTerm, rules, out); err != nil {
			logger.Warn("search fallback failed", zap.Error(err))
		}
	}

	if len(out.urls) == 0 {
		return nil, ErrNothingFound
	}
	return out.urls, nil
}

// buildRules scopes discovery to the seed host, widened to subdomains of the
// registrable domain when requested.
func (e *Engine) buildRules(seed *url.URL, opts crawl.SitemapOptions) urlfilter.Rules {
	var allowed []string
	if !opts.IncludeSubdomains {
		host := strings.TrimPrefix(strings.ToLower(seed.Hostname()), "www.")
		allowed = []string{host, "www." + host}
	}
	return urlfilter.NewRules(seed.String(), allowed, opts.IncludePaths, opts.ExcludePaths)
}

// discoverFromSitemaps runs phases 1-3: robots directives, common-path
// probes, and the sequential sitemap queue.
func (e *Engine) discoverFromSitemaps(ctx context.Context, seed *url.URL, rules urlfilter.Rules, searchTerm string, out *collector, logger *zap.Logger) error {
	queue := e.robots.Sitemaps(ctx, seed.String())
	if len(queue) > 0 {
		logger.Info("robots.txt declared sitemaps", zap.Int("count", len(queue)))
	} else {
		base := url.URL{Scheme: seed.Scheme, Host: seed.Host}
		queue = []string{
			base.JoinPath("sitemap.xml").String(),
			base.JoinPath("sitemap_index.xml").String(),
		}
	}

	visited := make(map[string]struct{})
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sitemap discovery canceled: %w", err)
		}
		if out.full() {
			return nil
		}
		smURL := queue[0]
		queue = queue[1:]
		key := urlfilter.Hash(smURL)
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}

		nested, leaves, err := e.processSitemap(ctx, smURL)
		if err != nil {
			// A broken sitemap never aborts discovery.
			logger.Warn("skipping sitemap", zap.String("sitemap", smURL), zap.Error(err))
			continue
		}
		queue = append(queue, nested...)
		for _, leaf := range leaves {
			if !rules.IsAllowed(leaf) {
				continue
			}
			if searchTerm != "" && !strings.Contains(strings.ToLower(leaf), searchTerm) {
				continue
			}
			if out.add(leaf) {
				return nil
			}
		}
	}
	return nil
}

// processSitemap fetches and parses one sitemap document.
func (e *Engine) processSitemap(ctx context.Context, smURL string) (nested, leaves []string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, smURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close sitemap body failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read sitemap body: %w", err)
	}
	body, err = decompress(body, smURL, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, err
	}
	return parseDocument(body)
}

// bfsCrawl is the phase-4 fallback: breadth-first link discovery from the
// seed, bounded by depth and by the first-N-new-patterns-per-page heuristic.
func (e *Engine) bfsCrawl(ctx context.Context, seed *url.URL, rules urlfilter.Rules, searchTerm string, out *collector, logger *zap.Logger) error {
	type frontierItem struct {
		url   string
		depth int
	}
	visited := map[string]struct{}{urlfilter.Hash(seed.String()): {}}
	patterns := make(map[string]struct{})
	frontier := []frontierItem{{url: seed.String(), depth: 0}}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bfs crawl canceled: %w", err)
		}
		if out.full() {
			return nil
		}
		item := frontier[0]
		frontier = frontier[1:]

		page, err := e.fetcher.Fetch(ctx, item.url, nil)
		if err != nil {
			logger.Debug("bfs fetch failed", zap.String("url", item.url), zap.Error(err))
			continue
		}
		if searchTerm == "" || strings.Contains(strings.ToLower(item.url), searchTerm) {
			if out.add(page.FinalURL) {
				return nil
			}
		}
		if item.depth >= e.cfg.MaxDepth {
			continue
		}

		newPatterns := 0
		for _, link := range clean.ExtractLinks(page.Body, page.FinalURL, rules) {
			key := urlfilter.Hash(link)
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}

			parsed, parseErr := url.Parse(link)
			if parseErr != nil {
				continue
			}
			pattern := PathPattern(parsed)
			if _, known := patterns[pattern]; !known {
				if newPatterns >= e.cfg.PatternsPerPage {
					continue
				}
				patterns[pattern] = struct{}{}
				newPatterns++
			}
			frontier = append(frontier, frontierItem{url: link, depth: item.depth + 1})
		}
	}
	return nil
}

// searchFallback is phase 5: a site-scoped query against the search
// collaborator. Results are exempt from the search-term path filter since the
// query already targeted them, but domain rules still apply.
func (e *Engine) searchFallback(ctx context.Context, seed *url.URL, searchTerm string, rules urlfilter.Rules, out *collector) error {
	query := fmt.Sprintf("site:%s %s", seed.Hostname(), searchTerm)
	results, err := e.search.Search(ctx, strings.TrimSpace(query), e.cfg.SearchPages)
	if err != nil {
		return fmt.Errorf("search fallback: %w", err)
	}
	for _, res := range results {
		if !rules.IsAllowed(res.URL) {
			continue
		}
		if out.add(res.URL) {
			return nil
		}
	}
	return nil
}
