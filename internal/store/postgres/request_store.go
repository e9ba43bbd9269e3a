// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/store"
)

// DB is the subset of pgxpool.Pool the stores need. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect creates a pgx connection pool for the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// RequestStore implements crawl.RequestStore on Postgres. It assumes a table:
//
//	CREATE TABLE requests (
//	    id UUID PRIMARY KEY,
//	    kind TEXT NOT NULL,
//	    url TEXT NOT NULL,
//	    options JSONB NOT NULL,
//	    status TEXT NOT NULL,
//	    error_text TEXT NOT NULL DEFAULT '',
//	    submitted_at TIMESTAMPTZ NOT NULL,
//	    started_at TIMESTAMPTZ,
//	    finished_at TIMESTAMPTZ,
//	    duration_ms BIGINT NOT NULL DEFAULT 0,
//	    sitemap_urls JSONB
//	);
type RequestStore struct {
	db DB
}

// NewRequestStore wraps the pool (or a mock) in a RequestStore.
func NewRequestStore(db DB) *RequestStore {
	return &RequestStore{db: db}
}

// CreateRequest inserts a freshly submitted request.
func (s *RequestStore) CreateRequest(ctx context.Context, req crawl.Request) error {
	optionsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	query := `
		INSERT INTO requests (id, kind, url, options, status, error_text, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err = s.db.Exec(ctx, query,
		req.ID, req.Kind, req.URL, optionsJSON, req.Status, req.Error, req.Submitted)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest loads one request or returns store.ErrNotFound.
func (s *RequestStore) GetRequest(ctx context.Context, id uuid.UUID) (crawl.Request, error) {
	query := `
		SELECT id, kind, url, options, status, error_text, submitted_at,
		       started_at, finished_at, duration_ms, sitemap_urls
		FROM requests
		WHERE id = $1;
	`
	var (
		req         crawl.Request
		optionsJSON []byte
		sitemapJSON []byte
		durationMS  int64
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.Kind,
		&req.URL,
		&optionsJSON,
		&req.Status,
		&req.Error,
		&req.Submitted,
		&req.Started,
		&req.Finished,
		&durationMS,
		&sitemapJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Request{}, store.ErrNotFound
		}
		return crawl.Request{}, fmt.Errorf("get request: %w", err)
	}
	if err := json.Unmarshal(optionsJSON, &req.Options); err != nil {
		return crawl.Request{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if len(sitemapJSON) > 0 {
		if err := json.Unmarshal(sitemapJSON, &req.SitemapURLs); err != nil {
			return crawl.Request{}, fmt.Errorf("unmarshal sitemap urls: %w", err)
		}
	}
	req.Duration = time.Duration(durationMS) * time.Millisecond
	return req, nil
}

// UpdateStatus advances a request through the state machine. The update is a
// compare-and-set on the current status column so racing workers cannot move
// a request backwards or out of a terminal state.
func (s *RequestStore) UpdateStatus(ctx context.Context, id uuid.UUID, status crawl.Status, errText string) error {
	from := allowedFrom(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: no status may move to %q", store.ErrInvalidTransition, status)
	}
	query := `
		UPDATE requests
		SET status = $2,
		    error_text = $3,
		    started_at = CASE WHEN $4 THEN NOW() ELSE started_at END,
		    finished_at = CASE WHEN $5 THEN NOW() ELSE finished_at END
		WHERE id = $1 AND status = ANY($6);
	`
	tag, err := s.db.Exec(ctx, query,
		id, status, errText, status == crawl.StatusRunning, status.IsTerminal(), from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := s.GetRequest(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, current.Status, status)
	}
	return nil
}

// SetSitemapURLs stores the ordered discovery result for a sitemap request.
func (s *RequestStore) SetSitemapURLs(ctx context.Context, id uuid.UUID, urls []string) error {
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("marshal sitemap urls: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE requests SET sitemap_urls = $2 WHERE id = $1;`, id, urlsJSON)
	if err != nil {
		return fmt.Errorf("set sitemap urls: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetDuration records the final wall time of the request.
func (s *RequestStore) SetDuration(ctx context.Context, id uuid.UUID, d time.Duration) error {
	tag, err := s.db.Exec(ctx, `UPDATE requests SET duration_ms = $2 WHERE id = $1;`, id, d.Milliseconds())
	if err != nil {
		return fmt.Errorf("set duration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// allowedFrom lists every status that may legally move to next.
func allowedFrom(next crawl.Status) []string {
	all := []crawl.Status{
		crawl.StatusNew,
		crawl.StatusRunning,
		crawl.StatusFinished,
		crawl.StatusCanceling,
		crawl.StatusCanceled,
		crawl.StatusFailed,
	}
	var from []string
	for _, s := range all {
		if s.CanTransition(next) {
			from = append(from, string(s))
		}
	}
	return from
}
