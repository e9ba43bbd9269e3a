package spider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/fetch"
	"github.com/crawlkit/crawlkit/internal/progress"
	"github.com/crawlkit/crawlkit/internal/urlfilter"
)

// SearchRunner is the orchestrator variant behind the run_search entry point.
// For search requests the request's URL field carries the query string; each
// hit returned by the search collaborator is fetched through the regular
// pipeline up to the page limit.
type SearchRunner struct {
	cfg      Config
	requests crawl.RequestStore
	results  crawl.ResultStore
	blobs    crawl.BlobStore
	pipeline *fetch.Pipeline
	search   crawl.SearchClient
	emitter  progress.Emitter
	clock    crawl.Clock
	ids      crawl.IDGenerator
	logger   *zap.Logger

	cancels cancelRegistry
}

// NewSearchRunner wires a SearchRunner.
func NewSearchRunner(
	cfg Config,
	requests crawl.RequestStore,
	results crawl.ResultStore,
	blobs crawl.BlobStore,
	pipeline *fetch.Pipeline,
	search crawl.SearchClient,
	emitter progress.Emitter,
	clock crawl.Clock,
	ids crawl.IDGenerator,
	logger *zap.Logger,
) *SearchRunner {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchRunner{
		cfg:      cfg,
		requests: requests,
		results:  results,
		blobs:    blobs,
		pipeline: pipeline,
		search:   search,
		emitter:  emitter,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Run executes one search-crawl request end to end.
func (s *SearchRunner) Run(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if s.search == nil {
		_ = s.requests.UpdateStatus(ctx, requestID, crawl.StatusRunning, "")
		_ = s.requests.UpdateStatus(ctx, requestID, crawl.StatusFailed, "search client not configured")
		s.emit(requestID, crawl.StatusFailed, 0)
		return fmt.Errorf("search client not configured")
	}
	if err := s.requests.UpdateStatus(ctx, requestID, crawl.StatusRunning, ""); err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	started := s.clock.Now()
	s.emit(requestID, crawl.StatusRunning, 0)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancels.store(requestID, cancel)
	defer func() {
		s.cancels.delete(requestID)
		cancel()
	}()

	fetched, runErr := s.crawlHits(runCtx, req)

	status := crawl.StatusFinished
	errText := ""
	if current, getErr := s.requests.GetRequest(ctx, requestID); getErr == nil && current.Status == crawl.StatusCanceling {
		status = crawl.StatusCanceled
	} else if runErr != nil {
		status = crawl.StatusFailed
		errText = runErr.Error()
	} else if fetched == 0 {
		status = crawl.StatusFailed
		errText = "search returned no fetchable pages"
	}

	dur := s.clock.Now().Sub(started)
	if err := s.requests.UpdateStatus(ctx, requestID, status, errText); err != nil {
		return fmt.Errorf("finalize request: %w", err)
	}
	if err := s.requests.SetDuration(ctx, requestID, dur); err != nil {
		s.logger.Warn("persist duration failed", zap.Error(err))
	}
	s.emit(requestID, status, dur)
	if status == crawl.StatusFailed && runErr != nil {
		return runErr
	}
	return nil
}

// Stop moves a running search request to canceling.
func (s *SearchRunner) Stop(ctx context.Context, requestID uuid.UUID) error {
	if err := s.requests.UpdateStatus(ctx, requestID, crawl.StatusCanceling, ""); err != nil {
		return err
	}
	s.emit(requestID, crawl.StatusCanceling, 0)
	s.cancels.cancel(requestID)
	return nil
}

// crawlHits queries the collaborator and fetches each hit sequentially. Hits
// came from targeted search, so only the extension/scheme checks apply, not
// the crawl domain rules.
func (s *SearchRunner) crawlHits(ctx context.Context, req crawl.Request) (int, error) {
	hits, err := s.search.Search(ctx, req.URL, searchResultPages)
	if err != nil {
		return 0, fmt.Errorf("search %q: %w", req.URL, err)
	}

	limit := req.Options.Spider.PageLimit
	if limit <= 0 {
		limit = s.cfg.DefaultPageLimit
	}
	rules := urlfilter.NewRules("", []string{"*"}, nil, nil)
	proxies := newProxyRing(req.Options.Proxies, s.cfg.Proxies)

	fetched := 0
	seen := make(map[string]struct{})
	for _, hit := range hits {
		if ctx.Err() != nil {
			break
		}
		if fetched >= limit {
			break
		}
		key := urlfilter.Hash(hit.URL)
		if _, dup := seen[key]; dup || !rules.IsAllowed(hit.URL) {
			continue
		}
		seen[key] = struct{}{}

		page, fetchErr := s.pipeline.FetchPage(ctx, hit.URL, req.Options.Page, proxies.pick(), false)
		if fetchErr != nil {
			s.emitWarning(req.ID, hit.URL, fetchErr)
			continue
		}
		payload, _, procErr := s.pipeline.Process(page, req.Options.Page, rules)
		if procErr != nil {
			s.emitWarning(req.ID, hit.URL, procErr)
			continue
		}
		if payload.Metadata == nil {
			payload.Metadata = make(map[string]string)
		}
		if payload.Metadata["title"] == "" && hit.Title != "" {
			payload.Metadata["title"] = hit.Title
		}
		if hit.Snippet != "" {
			payload.Metadata["snippet"] = hit.Snippet
		}
		s.persist(ctx, req.ID, page, payload)
		fetched++
	}
	return fetched, nil
}

func (s *SearchRunner) persist(ctx context.Context, requestID uuid.UUID, page crawl.Page, payload crawl.Payload) {
	resultID, err := s.ids.NewID()
	if err != nil {
		s.emitWarning(requestID, page.FinalURL, err)
		return
	}
	res := crawl.Result{
		ID:        resultID,
		RequestID: requestID,
		URL:       page.FinalURL,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	}
	if _, err := s.results.CreateResult(ctx, res); err != nil {
		s.emitWarning(requestID, page.FinalURL, err)
		return
	}
	for _, att := range page.Attachments {
		path := blobPath(s.cfg.BlobPrefix, requestID, resultID, att.Kind)
		uri, putErr := s.blobs.PutObject(ctx, path, contentTypeFor(att.Kind), att.Bytes)
		if putErr != nil {
			s.logger.Warn("store attachment failed", zap.String("path", path), zap.Error(putErr))
			continue
		}
		if recErr := s.results.CreateAttachment(ctx, crawl.Attachment{ResultID: resultID, Kind: att.Kind, BlobURI: uri}); recErr != nil {
			s.logger.Warn("record attachment failed", zap.String("path", path), zap.Error(recErr))
		}
	}
	if s.emitter != nil {
		s.emitter.Emit(progress.Event{
			RequestID:   requestID,
			TS:          s.clock.Now(),
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

func (s *SearchRunner) emit(requestID uuid.UUID, status crawl.Status, dur time.Duration) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(progress.Event{
		RequestID: requestID,
		TS:        s.clock.Now(),
		Type:      progress.TypeState,
		Status:    status,
		Dur:       dur,
	})
}

func (s *SearchRunner) emitWarning(requestID uuid.UUID, rawURL string, err error) {
	s.logger.Warn("search hit skipped", zap.String("url", rawURL), zap.Error(err))
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(progress.Event{
		RequestID: requestID,
		TS:        s.clock.Now(),
		Type:      progress.TypeWarning,
		Site:      hostOf(rawURL),
		URL:       rawURL,
		Note:      err.Error(),
	})
}

// searchResultPages caps collaborator pagination for search-crawl requests.
const searchResultPages = 5
