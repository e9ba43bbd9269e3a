package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

type seqResult struct {
	seq int
	res crawl.Result
}

// ResultStore keeps results in insertion order with a global sequence, so
// cursor semantics match the Postgres store.
type ResultStore struct {
	mu          sync.Mutex
	nextSeq     int
	results     map[uuid.UUID][]seqResult
	attachments map[uuid.UUID][]crawl.Attachment
}

// NewResultStore builds an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results:     make(map[uuid.UUID][]seqResult),
		attachments: make(map[uuid.UUID][]crawl.Attachment),
	}
}

// CreateResult appends one page result and returns its ID.
func (s *ResultStore) CreateResult(_ context.Context, res crawl.Result) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.results[res.RequestID] = append(s.results[res.RequestID], seqResult{seq: s.nextSeq, res: res})
	return res.ID, nil
}

// ListResults returns results with seq greater than afterSeq plus the highest
// seq seen.
func (s *ResultStore) ListResults(_ context.Context, requestID uuid.UUID, afterSeq int) ([]crawl.Result, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawl.Result
	maxSeq := afterSeq
	for _, entry := range s.results[requestID] {
		if entry.seq <= afterSeq {
			continue
		}
		out = append(out, entry.res)
		if entry.seq > maxSeq {
			maxSeq = entry.seq
		}
	}
	return out, maxSeq, nil
}

// CreateAttachment records an attachment row for a result.
func (s *ResultStore) CreateAttachment(_ context.Context, att crawl.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.attachments[att.ResultID]
	for i, prev := range existing {
		if prev.Kind == att.Kind {
			existing[i] = att
			return nil
		}
	}
	s.attachments[att.ResultID] = append(existing, att)
	return nil
}

// Attachments returns the recorded attachments for a result. Test helper.
func (s *ResultStore) Attachments(resultID uuid.UUID) []crawl.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawl.Attachment(nil), s.attachments[resultID]...)
}
