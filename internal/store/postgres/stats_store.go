package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/store"
)

// StatsStore implements store.StatsRepository on Postgres. Assumed schema:
//
//	CREATE TABLE site_stats (
//	    request_id UUID NOT NULL REFERENCES requests(id),
//	    site TEXT NOT NULL,
//	    last_update TIMESTAMPTZ NOT NULL,
//	    pages BIGINT NOT NULL DEFAULT 0,
//	    bytes_total BIGINT NOT NULL DEFAULT 0,
//	    fetch_2xx BIGINT NOT NULL DEFAULT 0,
//	    fetch_3xx BIGINT NOT NULL DEFAULT 0,
//	    fetch_4xx BIGINT NOT NULL DEFAULT 0,
//	    fetch_5xx BIGINT NOT NULL DEFAULT 0,
//	    PRIMARY KEY (request_id, site)
//	);
type StatsStore struct {
	db DB
}

// NewStatsStore wraps the pool (or a mock) in a StatsStore.
func NewStatsStore(db DB) *StatsStore {
	return &StatsStore{db: db}
}

// UpsertSiteStats applies page/byte deltas per (request, site, statusClass).
func (s *StatsStore) UpsertSiteStats(
	ctx context.Context,
	requestID uuid.UUID,
	site string,
	deltaPages,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	column, ok := statusColumn(statusClass)
	if !ok {
		// 1xx and malformed responses still count toward page/byte totals.
		query := `
			INSERT INTO site_stats (request_id, site, last_update, pages, bytes_total)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (request_id, site) DO UPDATE
			SET pages = site_stats.pages + EXCLUDED.pages,
			    bytes_total = site_stats.bytes_total + EXCLUDED.bytes_total,
			    last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update);
		`
		if _, err := s.db.Exec(ctx, query, requestID, site, at, deltaPages, deltaBytes); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO site_stats (request_id, site, last_update, pages, bytes_total, %s)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (request_id, site) DO UPDATE
		SET pages = site_stats.pages + EXCLUDED.pages,
		    bytes_total = site_stats.bytes_total + EXCLUDED.bytes_total,
		    %s = site_stats.%s + EXCLUDED.%s,
		    last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update);
	`, column, column, column, column)
	if _, err := s.db.Exec(ctx, query, requestID, site, at, deltaPages, deltaBytes); err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// ListRequestSites retrieves aggregated site statistics for a given request.
func (s *StatsStore) ListRequestSites(
	ctx context.Context,
	requestID uuid.UUID,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	query := `
		SELECT request_id, site, last_update, pages, bytes_total,
		       fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM site_stats
		WHERE request_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, requestID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list request sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		err := rows.Scan(
			&stat.RequestID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Pages,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats rows: %w", err)
	}
	return stats, nil
}

func statusColumn(statusClass string) (string, bool) {
	switch statusClass {
	case "2xx":
		return "fetch_2xx", true
	case "3xx":
		return "fetch_3xx", true
	case "4xx":
		return "fetch_4xx", true
	case "5xx":
		return "fetch_5xx", true
	default:
		return "", false
	}
}
