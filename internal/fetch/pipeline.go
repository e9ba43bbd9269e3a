package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/clean"
	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// Pipeline composes the plain fetcher with the rendering fallback and the
// HTML cleaning stages. One pipeline instance is shared by all workers of an
// orchestrator.
type Pipeline struct {
	fetcher  crawl.Fetcher
	renderer crawl.Renderer
	hasher   crawl.Hasher
	detector *Detector
	logger   *zap.Logger
}

// NewPipeline wires the fetcher, the optional renderer, and the content
// hasher used for payload integrity digests.
func NewPipeline(fetcher crawl.Fetcher, renderer crawl.Renderer, hasher crawl.Hasher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:  fetcher,
		renderer: renderer,
		hasher:   hasher,
		detector: NewDetector(0),
		logger:   logger,
	}
}

// FetchPage retrieves one page. Rendering is used when the request asks for a
// post-load wait, has not disabled rendering, and does not carry the
// skip-rendering marker set by retry paths. A plain fetch that comes back
// looking like a JS shell is promoted to the renderer as well.
func (p *Pipeline) FetchPage(ctx context.Context, rawURL string, opts crawl.PageOptions, proxy *crawl.ProxyServer, skipRender bool) (crawl.Page, error) {
	renderAllowed := p.renderer != nil && !opts.IgnoreRendering && !skipRender
	if renderAllowed && opts.WaitTime > 0 {
		page, err := p.renderer.Render(ctx, rawURL, opts, proxy)
		if err != nil {
			return crawl.Page{}, err
		}
		return page, nil
	}

	page, err := p.fetcher.Fetch(ctx, rawURL, proxy)
	if err != nil {
		return crawl.Page{}, err
	}
	if renderAllowed && p.detector.ShouldRender(page) {
		p.logger.Debug("promoting fetch to renderer", zap.String("url", rawURL))
		rendered, renderErr := p.renderer.Render(ctx, rawURL, opts, proxy)
		if renderErr != nil {
			// Promotion failures fall back to the static page.
			p.logger.Warn("render promotion failed", zap.String("url", rawURL), zap.Error(renderErr))
			return page, nil
		}
		return rendered, nil
	}
	return page, nil
}

// Process cleans a fetched page into its stored payload and the filtered set
// of outbound links, resolved against the page's own final URL.
func (p *Pipeline) Process(page crawl.Page, opts crawl.PageOptions, rules urlfilter.Rules) (crawl.Payload, []string, error) {
	cleaned, err := clean.HTML(page.Body, clean.Options{
		IncludeTags:     opts.IncludeTags,
		ExcludeTags:     opts.ExcludeTags,
		OnlyMainContent: opts.OnlyMainContent,
	})
	if err != nil {
		return crawl.Payload{}, nil, err
	}

	markdown, err := clean.ToMarkdown(cleaned, page.FinalURL)
	if err != nil {
		return crawl.Payload{}, nil, err
	}
	markdown = clean.StripNoise(markdown, page.FinalURL)

	payload := crawl.Payload{
		Metadata: clean.Metadata(page.Body, page.FinalURL),
		Markdown: markdown,
	}
	if p.hasher != nil {
		if digest, hashErr := p.hasher.Hash(page.Body); hashErr == nil {
			payload.Metadata["content_hash"] = digest
		}
	}
	if opts.IncludeHTML {
		payload.HTML = cleaned
	}

	links := clean.ExtractLinks(page.Body, page.FinalURL, rules)
	if opts.IncludeLinks {
		payload.Links = links
	}
	return payload, links, nil
}
