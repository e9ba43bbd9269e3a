package crawl

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RequestStore persists requests and owns their status column. UpdateStatus
// must reject transitions the state machine forbids.
type RequestStore interface {
	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, errText string) error
	SetSitemapURLs(ctx context.Context, id uuid.UUID, urls []string) error
	SetDuration(ctx context.Context, id uuid.UUID, d time.Duration) error
}

// ResultStore appends per-page results and attachments. Writes are fire and
// confirm; the core never assumes synchronous durability beyond the returned error.
type ResultStore interface {
	CreateResult(ctx context.Context, res Result) (uuid.UUID, error)
	ListResults(ctx context.Context, requestID uuid.UUID, afterSeq int) ([]Result, int, error)
	CreateAttachment(ctx context.Context, att Attachment) error
}

// BlobStore writes raw attachment bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fetcher retrieves a URL over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, proxy *ProxyServer) (Page, error)
}

// Renderer fetches a URL through a JavaScript-capable engine.
type Renderer interface {
	Render(ctx context.Context, rawURL string, opts PageOptions, proxy *ProxyServer) (Page, error)
}

// SearchResult is one hit returned by the search collaborator.
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// SearchClient queries an external search API, paginating internally.
type SearchClient interface {
	Search(ctx context.Context, query string, maxPages int) ([]SearchResult, error)
}

// Task wraps a request ready to run on a worker.
type Task struct {
	Kind      Kind      `json:"kind"`
	RequestID uuid.UUID `json:"request_id"`
}

// Queue provides enqueue/dequeue semantics for spider tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
