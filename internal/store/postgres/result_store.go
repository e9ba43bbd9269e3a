package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// ResultStore implements crawl.ResultStore on Postgres. Results carry a
// monotonically increasing per-table sequence so streaming readers can resume
// with a cursor. Assumed schema:
//
//	CREATE TABLE results (
//	    id UUID PRIMARY KEY,
//	    request_id UUID NOT NULL REFERENCES requests(id),
//	    seq BIGSERIAL NOT NULL,
//	    url TEXT NOT NULL,
//	    payload JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE attachments (
//	    result_id UUID NOT NULL REFERENCES results(id),
//	    kind TEXT NOT NULL,
//	    blob_uri TEXT NOT NULL,
//	    PRIMARY KEY (result_id, kind)
//	);
type ResultStore struct {
	db DB
}

// NewResultStore wraps the pool (or a mock) in a ResultStore.
func NewResultStore(db DB) *ResultStore {
	return &ResultStore{db: db}
}

// CreateResult appends one page result and returns its ID.
func (s *ResultStore) CreateResult(ctx context.Context, res crawl.Result) (uuid.UUID, error) {
	payloadJSON, err := json.Marshal(res.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO results (id, request_id, url, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`
	var id uuid.UUID
	err = s.db.QueryRow(ctx, query, res.ID, res.RequestID, res.URL, payloadJSON, res.CreatedAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert result: %w", err)
	}
	return id, nil
}

// ListResults returns results for a request with seq greater than afterSeq,
// ordered by seq, plus the highest seq seen for cursor continuation.
func (s *ResultStore) ListResults(ctx context.Context, requestID uuid.UUID, afterSeq int) ([]crawl.Result, int, error) {
	query := `
		SELECT id, request_id, seq, url, payload, created_at
		FROM results
		WHERE request_id = $1 AND seq > $2
		ORDER BY seq ASC;
	`
	rows, err := s.db.Query(ctx, query, requestID, afterSeq)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []crawl.Result
	maxSeq := afterSeq
	for rows.Next() {
		var (
			res         crawl.Result
			seq         int
			payloadJSON []byte
		)
		if err := rows.Scan(&res.ID, &res.RequestID, &seq, &res.URL, &payloadJSON, &res.CreatedAt); err != nil {
			return nil, afterSeq, fmt.Errorf("scan result row: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &res.Payload); err != nil {
			return nil, afterSeq, fmt.Errorf("unmarshal payload: %w", err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, afterSeq, fmt.Errorf("iterate result rows: %w", err)
	}
	return results, maxSeq, nil
}

// CreateAttachment records the blob URI of a rendered artifact. A repeated
// write for the same (result, kind) overwrites the URI.
func (s *ResultStore) CreateAttachment(ctx context.Context, att crawl.Attachment) error {
	query := `
		INSERT INTO attachments (result_id, kind, blob_uri)
		VALUES ($1, $2, $3)
		ON CONFLICT (result_id, kind) DO UPDATE SET blob_uri = EXCLUDED.blob_uri;
	`
	if _, err := s.db.Exec(ctx, query, att.ResultID, att.Kind, att.BlobURI); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}
