// Package spider implements the crawl orchestrator: the request state
// machine, the bounded worker pool that drives the fetch pipeline, and the
// status polling generator consumed by the streaming API.
package spider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/fetch"
	"github.com/crawlkit/crawlkit/internal/progress"
	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// Config bounds one orchestrator's fetch concurrency.
type Config struct {
	// MaxConcurrency caps in-flight fetches for one request (default 8).
	MaxConcurrency int
	// PerDomain and PerIP cap concurrent fetches per target (default 2 each).
	PerDomain int
	PerIP     int
	// DefaultPageLimit applies when the request does not set page_limit.
	DefaultPageLimit int
	// DefaultMaxDepth applies when the request does not set max_depth.
	DefaultMaxDepth int
	// BlobPrefix namespaces attachment objects in the blob store.
	BlobPrefix string
	// Proxies is the service-wide rotation pool, used when the request does
	// not carry its own proxy_servers.
	Proxies []crawl.ProxyServer
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.PerDomain <= 0 {
		c.PerDomain = 2
	}
	if c.PerIP <= 0 {
		c.PerIP = 2
	}
	if c.DefaultPageLimit <= 0 {
		c.DefaultPageLimit = 100
	}
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = 3
	}
}

// Orchestrator owns request status transitions. Workers append results and
// link items but never touch status except through the lifecycle methods.
type Orchestrator struct {
	cfg      Config
	requests crawl.RequestStore
	results  crawl.ResultStore
	blobs    crawl.BlobStore
	pipeline *fetch.Pipeline
	emitter  progress.Emitter
	clock    crawl.Clock
	ids      crawl.IDGenerator
	logger   *zap.Logger

	cancels cancelRegistry
}

// New wires an Orchestrator.
func New(
	cfg Config,
	requests crawl.RequestStore,
	results crawl.ResultStore,
	blobs crawl.BlobStore,
	pipeline *fetch.Pipeline,
	emitter progress.Emitter,
	clock crawl.Clock,
	ids crawl.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		requests: requests,
		results:  results,
		blobs:    blobs,
		pipeline: pipeline,
		emitter:  emitter,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// errLimitReached closes the worker pool when the page budget is spent. It is
// a normal completion, never a failure.
var errLimitReached = errors.New("page limit reached")

// Run executes one crawl request end to end: new -> running -> terminal.
func (o *Orchestrator) Run(ctx context.Context, requestID uuid.UUID) error {
	req, err := o.requests.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}

	r := &run{
		o:       o,
		req:     req,
		logger:  o.logger.With(zap.String("request_id", requestID.String())),
		visited: make(map[string]struct{}),
	}
	if err := r.onStart(ctx); err != nil {
		return err
	}

	crawlCtx, cancel := context.WithCancel(ctx)
	o.cancels.store(requestID, cancel)
	defer func() {
		o.cancels.delete(requestID)
		cancel()
	}()

	crawlErr := r.crawl(crawlCtx)
	return r.onClose(ctx, crawlErr)
}

// Stop moves a running request to canceling and signals its workers. The
// transition to canceled happens in onClose once in-flight fetches drain.
func (o *Orchestrator) Stop(ctx context.Context, requestID uuid.UUID) error {
	if err := o.requests.UpdateStatus(ctx, requestID, crawl.StatusCanceling, ""); err != nil {
		return err
	}
	o.emitState(requestID, crawl.StatusCanceling, 0)
	o.cancels.cancel(requestID)
	return nil
}

func (o *Orchestrator) emitState(requestID uuid.UUID, status crawl.Status, dur time.Duration) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(progress.Event{
		RequestID: requestID,
		TS:        o.clock.Now(),
		Type:      progress.TypeState,
		Status:    status,
		Dur:       dur,
	})
}

// run tracks one request execution. The mutex guards the visited set, the
// page counter, and the raw link log; aggregation of the link log happens
// single-writer in onClose after the pool drains.
type run struct {
	o       *Orchestrator
	req     crawl.Request
	rules   urlfilter.Rules
	proxies *proxyRing
	logger  *zap.Logger

	started   time.Time
	pageLimit int
	maxDepth  int

	mu       sync.Mutex
	visited  map[string]struct{}
	fetched  int
	links    []crawl.LinkItem
	limitHit bool

	limitCancel context.CancelFunc
}

// onStart validates the seed, compiles filter rules, and moves the request to
// running.
func (r *run) onStart(ctx context.Context) error {
	seed, err := url.Parse(strings.TrimSpace(r.req.URL))
	if err != nil || seed.Hostname() == "" || (seed.Scheme != "http" && seed.Scheme != "https") {
		failErr := fmt.Errorf("invalid seed url %q", r.req.URL)
		if uerr := r.o.requests.UpdateStatus(ctx, r.req.ID, crawl.StatusRunning, ""); uerr == nil {
			_ = r.o.requests.UpdateStatus(ctx, r.req.ID, crawl.StatusFailed, failErr.Error())
			r.o.emitState(r.req.ID, crawl.StatusFailed, 0)
		}
		return failErr
	}

	opts := r.req.Options.Spider
	r.rules = urlfilter.NewRules(r.req.URL, opts.AllowedDomains, opts.IncludePaths, opts.ExcludePaths)
	r.proxies = newProxyRing(r.req.Options.Proxies, r.o.cfg.Proxies)
	r.pageLimit = opts.PageLimit
	if r.pageLimit <= 0 {
		r.pageLimit = r.o.cfg.DefaultPageLimit
	}
	r.maxDepth = opts.MaxDepth
	if r.maxDepth <= 0 {
		r.maxDepth = r.o.cfg.DefaultMaxDepth
	}

	if err := r.o.requests.UpdateStatus(ctx, r.req.ID, crawl.StatusRunning, ""); err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	r.started = r.o.clock.Now()
	r.o.emitState(r.req.ID, crawl.StatusRunning, 0)
	return nil
}

// crawl drives the bounded worker pool from the seed URL. Cancellation is
// cooperative: workers check the context before each fetch, and in-flight
// fetches complete naturally.
func (r *run) crawl(ctx context.Context) error {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.limitCancel = cancel

	sem := semaphore.NewWeighted(int64(r.o.cfg.MaxConcurrency))
	limits := newHostLimiter(r.o.cfg.PerDomain, r.o.cfg.PerIP)
	var wg sync.WaitGroup

	var enqueue func(rawURL string, depth int)
	enqueue = func(rawURL string, depth int) {
		r.mu.Lock()
		key := urlfilter.Hash(rawURL)
		if _, seen := r.visited[key]; seen || r.limitHit {
			r.mu.Unlock()
			return
		}
		r.visited[key] = struct{}{}
		r.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(poolCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			links, ok := r.fetchOne(poolCtx, limits, rawURL)
			if !ok || depth >= r.maxDepth {
				return
			}
			for _, link := range links {
				enqueue(link, depth+1)
			}
		}()
	}

	enqueue(r.req.URL, 0)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		r.mu.Lock()
		limitHit := r.limitHit
		r.mu.Unlock()
		if limitHit {
			return errLimitReached
		}
		return err
	}
	return nil
}

// fetchOne fetches, cleans, and persists a single page. Every per-URL failure
// is converted into a diagnostic event; only the return value tells the
// caller whether links may be followed.
func (r *run) fetchOne(ctx context.Context, limits *hostLimiter, rawURL string) ([]string, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	host := strings.ToLower(parsed.Hostname())

	release, err := limits.acquire(ctx, host)
	if err != nil {
		return nil, false
	}
	defer release()
	if ctx.Err() != nil {
		return nil, false
	}

	page, err := r.o.pipeline.FetchPage(ctx, rawURL, r.req.Options.Page, r.proxies.pick(), false)
	if err != nil {
		r.emitWarning(host, rawURL, err)
		return nil, false
	}

	payload, links, err := r.o.pipeline.Process(page, r.req.Options.Page, r.rules)
	if err != nil {
		r.emitWarning(host, rawURL, fmt.Errorf("clean page: %w", err))
		return nil, false
	}

	r.mu.Lock()
	if r.limitHit {
		r.mu.Unlock()
		return nil, false
	}
	r.fetched++
	if r.fetched >= r.pageLimit {
		r.limitHit = true
	}
	limitHit := r.limitHit
	r.collectLinksLocked(page, payload, links)
	r.mu.Unlock()

	r.onItem(ctx, page, payload)

	if limitHit {
		r.limitCancel()
		return nil, false
	}
	return links, true
}

// collectLinksLocked records link items for spider-close aggregation. The
// fetched page itself is verified; discovered links are not until visited.
func (r *run) collectLinksLocked(page crawl.Page, payload crawl.Payload, links []string) {
	title := payload.Metadata["title"]
	r.links = append(r.links, crawl.LinkItem{URL: page.FinalURL, Title: title, Verified: true})
	for _, link := range links {
		r.links = append(r.links, crawl.LinkItem{URL: link})
	}
}

// onItem persists one fetched page and its attachments and emits the result
// event.
func (r *run) onItem(ctx context.Context, page crawl.Page, payload crawl.Payload) {
	resultID, err := r.o.ids.NewID()
	if err != nil {
		r.emitWarning(hostOf(page.FinalURL), page.FinalURL, fmt.Errorf("generate result id: %w", err))
		return
	}
	res := crawl.Result{
		ID:        resultID,
		RequestID: r.req.ID,
		URL:       page.FinalURL,
		Payload:   payload,
		CreatedAt: r.o.clock.Now(),
	}
	if _, err := r.o.results.CreateResult(ctx, res); err != nil {
		r.emitWarning(hostOf(page.FinalURL), page.FinalURL, fmt.Errorf("persist result: %w", err))
		return
	}
	r.storeAttachments(ctx, resultID, page.Attachments)

	if r.o.emitter != nil {
		r.o.emitter.Emit(progress.Event{
			RequestID:   r.req.ID,
			TS:          r.o.clock.Now(),
			Type:        progress.TypeResult,
			ResultID:    resultID,
			Site:        hostOf(page.FinalURL),
			URL:         page.FinalURL,
			Bytes:       int64(len(page.Body)),
			StatusClass: progress.ClassifyStatus(page.StatusCode),
			Dur:         page.Duration,
		})
	}
}

func (r *run) storeAttachments(ctx context.Context, resultID uuid.UUID, attachments []crawl.Attachment) {
	for _, att := range attachments {
		path := blobPath(r.o.cfg.BlobPrefix, r.req.ID, resultID, att.Kind)
		uri, err := r.o.blobs.PutObject(ctx, path, contentTypeFor(att.Kind), att.Bytes)
		if err != nil {
			r.logger.Warn("store attachment failed", zap.String("path", path), zap.Error(err))
			continue
		}
		record := crawl.Attachment{ResultID: resultID, Kind: att.Kind, BlobURI: uri}
		if err := r.o.results.CreateAttachment(ctx, record); err != nil {
			r.logger.Warn("record attachment failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// onClose aggregates link items, persists the constructed sitemap, decides
// the terminal status, and emits the final state event after all result
// events.
func (r *run) onClose(ctx context.Context, crawlErr error) error {
	urls := r.aggregateLinks()
	if len(urls) > 0 {
		if err := r.o.requests.SetSitemapURLs(ctx, r.req.ID, urls); err != nil {
			r.logger.Warn("persist link sitemap failed", zap.Error(err))
		}
	}

	status, errText := r.finalStatus(ctx, crawlErr)
	dur := r.o.clock.Now().Sub(r.started)
	if err := r.o.requests.UpdateStatus(ctx, r.req.ID, status, errText); err != nil {
		return fmt.Errorf("finalize request: %w", err)
	}
	if err := r.o.requests.SetDuration(ctx, r.req.ID, dur); err != nil {
		r.logger.Warn("persist duration failed", zap.Error(err))
	}
	r.o.emitState(r.req.ID, status, dur)
	if crawlErr != nil && status == crawl.StatusFailed {
		return crawlErr
	}
	return nil
}

func (r *run) finalStatus(ctx context.Context, crawlErr error) (crawl.Status, string) {
	current, err := r.o.requests.GetRequest(ctx, r.req.ID)
	if err == nil && current.Status == crawl.StatusCanceling {
		return crawl.StatusCanceled, ""
	}

	r.mu.Lock()
	fetched := r.fetched
	r.mu.Unlock()

	switch {
	case errors.Is(crawlErr, errLimitReached):
		return crawl.StatusFinished, ""
	case errors.Is(crawlErr, context.Canceled) && fetched > 0:
		// Shutdown mid-crawl with partial results preserved.
		return crawl.StatusFinished, ""
	case crawlErr != nil:
		return crawl.StatusFailed, crawlErr.Error()
	case fetched == 0:
		return crawl.StatusFailed, "no pages were fetched"
	default:
		return crawl.StatusFinished, ""
	}
}

// aggregateLinks is the single-writer dedup step: one entry per normalized
// URL hash, keeping the shortest non-empty title among duplicates, ordered by
// URL for determinism.
func (r *run) aggregateLinks() []string {
	r.mu.Lock()
	items := r.links
	r.mu.Unlock()

	best := make(map[string]crawl.LinkItem, len(items))
	for _, item := range items {
		key := urlfilter.Hash(item.URL)
		prev, ok := best[key]
		if !ok {
			best[key] = item
			continue
		}
		if item.Title != "" && (prev.Title == "" || len(item.Title) < len(prev.Title)) {
			prev.Title = item.Title
		}
		prev.Verified = prev.Verified || item.Verified
		best[key] = prev
	}

	urls := make([]string, 0, len(best))
	for _, item := range best {
		norm, err := urlfilter.Normalize(item.URL)
		if err != nil {
			norm = item.URL
		}
		urls = append(urls, norm)
	}
	sort.Strings(urls)
	return urls
}

func (r *run) emitWarning(site, rawURL string, err error) {
	r.logger.Warn("page skipped", zap.String("url", rawURL), zap.Error(err))
	if r.o.emitter == nil {
		return
	}
	evtType := progress.TypeWarning
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) && fetchErr.Kind == fetch.FailureConnection {
		evtType = progress.TypeError
	}
	r.o.emitter.Emit(progress.Event{
		RequestID: r.req.ID,
		TS:        r.o.clock.Now(),
		Type:      evtType,
		Site:      site,
		URL:       rawURL,
		Note:      err.Error(),
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func blobPath(prefix string, requestID, resultID uuid.UUID, kind crawl.AttachmentKind) string {
	prefix = strings.Trim(prefix, "/")
	name := fmt.Sprintf("%s/%s.%s", requestID, resultID, extensionFor(kind))
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func extensionFor(kind crawl.AttachmentKind) string {
	if kind == crawl.AttachmentPDF {
		return "pdf"
	}
	return "png"
}

func contentTypeFor(kind crawl.AttachmentKind) string {
	if kind == crawl.AttachmentPDF {
		return "application/pdf"
	}
	return "image/png"
}
