// Package store declares shared persistence errors and the aggregated stats
// contract used by the progress store sink.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition signals a status update the request state machine
// forbids, e.g. moving a finished request back to running.
var ErrInvalidTransition = errors.New("invalid status transition")

// SiteStats captures per-site fetch aggregation for one request.
type SiteStats struct {
	// RequestID is the owning request.
	RequestID uuid.UUID
	// Site is the normalized host label (e.g., example.com).
	Site string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Pages counts completed fetches for the site.
	Pages int64
	// BytesTotal accumulates response bytes.
	BytesTotal int64
	// Fetch2xx-5xx hold per-status counts for diagnostics.
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
}

// StatsRepository persists incremental fetch aggregates.
type StatsRepository interface {
	// UpsertSiteStats applies page/byte deltas per (request, site, statusClass).
	UpsertSiteStats(
		ctx context.Context,
		requestID uuid.UUID,
		site string,
		deltaPages int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error
	// ListRequestSites returns aggregated site stats for one request.
	ListRequestSites(ctx context.Context, requestID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
