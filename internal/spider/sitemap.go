package spider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/progress"
	"github.com/crawlkit/crawlkit/internal/sitemap"
)

// SitemapRunner is the orchestrator variant behind the run_sitemap entry
// point: it resolves the request row, runs the discovery engine, and persists
// the ordered URL inventory on the request.
type SitemapRunner struct {
	requests crawl.RequestStore
	engine   *sitemap.Engine
	emitter  progress.Emitter
	clock    crawl.Clock
	logger   *zap.Logger

	cancels cancelRegistry
}

// NewSitemapRunner wires a SitemapRunner.
func NewSitemapRunner(requests crawl.RequestStore, engine *sitemap.Engine, emitter progress.Emitter, clock crawl.Clock, logger *zap.Logger) *SitemapRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapRunner{
		requests: requests,
		engine:   engine,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes one sitemap request end to end.
func (s *SitemapRunner) Run(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if err := s.requests.UpdateStatus(ctx, requestID, crawl.StatusRunning, ""); err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	started := s.clock.Now()
	s.emit(requestID, crawl.StatusRunning, 0)

	discoverCtx, cancel := context.WithCancel(ctx)
	s.cancels.store(requestID, cancel)
	defer func() {
		s.cancels.delete(requestID)
		cancel()
	}()

	urls, discoverErr := s.engine.Discover(discoverCtx, req.URL, req.Options.Sitemap)
	if len(urls) > 0 {
		if err := s.requests.SetSitemapURLs(ctx, requestID, urls); err != nil {
			s.logger.Warn("persist sitemap urls failed", zap.Error(err))
		}
	}

	status := crawl.StatusFinished
	errText := ""
	if current, getErr := s.requests.GetRequest(ctx, requestID); getErr == nil && current.Status == crawl.StatusCanceling {
		status = crawl.StatusCanceled
	} else if discoverErr != nil {
		status = crawl.StatusFailed
		errText = discoverErr.Error()
	}

	dur := s.clock.Now().Sub(started)
	if err := s.requests.UpdateStatus(ctx, requestID, status, errText); err != nil {
		return fmt.Errorf("finalize request: %w", err)
	}
	if err := s.requests.SetDuration(ctx, requestID, dur); err != nil {
		s.logger.Warn("persist duration failed", zap.Error(err))
	}
	s.emit(requestID, status, dur)
	if status == crawl.StatusFailed {
		return discoverErr
	}
	return nil
}

// Stop moves a running sitemap request to canceling and interrupts discovery.
func (s *SitemapRunner) Stop(ctx context.Context, requestID uuid.UUID) error {
	if err := s.requests.UpdateStatus(ctx, requestID, crawl.StatusCanceling, ""); err != nil {
		return err
	}
	s.emit(requestID, crawl.StatusCanceling, 0)
	s.cancels.cancel(requestID)
	return nil
}

func (s *SitemapRunner) emit(requestID uuid.UUID, status crawl.Status, dur time.Duration) {
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
