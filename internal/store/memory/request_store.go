// Package memory provides in-memory store implementations for development
// and tests. All types are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/store"
)

// RequestStore keeps requests in a map guarded by a mutex.
type RequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]crawl.Request
	clock    crawl.Clock
}

// NewRequestStore builds an empty RequestStore. A nil clock falls back to
// time.Now.
func NewRequestStore(clock crawl.Clock) *RequestStore {
	return &RequestStore{
		requests: make(map[uuid.UUID]crawl.Request),
		clock:    clock,
	}
}

func (s *RequestStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// CreateRequest stores a freshly submitted request.
func (s *RequestStore) CreateRequest(_ context.Context, req crawl.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// GetRequest returns a copy of the stored request or store.ErrNotFound.
func (s *RequestStore) GetRequest(_ context.Context, id uuid.UUID) (crawl.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return crawl.Request{}, store.ErrNotFound
	}
	return cloneRequest(req), nil
}

// UpdateStatus advances the request through the state machine under the lock,
// mirroring the compare-and-set the Postgres store performs in SQL.
func (s *RequestStore) UpdateStatus(_ context.Context, id uuid.UUID, status crawl.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	if !req.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, req.Status, status)
	}
	req.Status = status
	req.Error = errText
	now := s.now()
	if status == crawl.StatusRunning {
		req.Started = &now
	}
	if status.IsTerminal() {
		req.Finished = &now
	}
	s.requests[id] = req
	return nil
}

// SetSitemapURLs stores the ordered discovery result for a sitemap request.
func (s *RequestStore) SetSitemapURLs(_ context.Context, id uuid.UUID, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	req.SitemapURLs = append([]string(nil), urls...)
	s.requests[id] = req
	return nil
}

// SetDuration records the final wall time of the request.
func (s *RequestStore) SetDuration(_ context.Context, id uuid.UUID, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	req.Duration = d
	s.requests[id] = req
	return nil
}

func cloneRequest(req crawl.Request) crawl.Request {
	out := req
	if req.Started != nil {
		started := *req.Started
		out.Started = &started
	}
	if req.Finished != nil {
		finished := *req.Finished
		out.Finished = &finished
	}
	out.SitemapURLs = append([]string(nil), req.SitemapURLs...)
	return out
}
