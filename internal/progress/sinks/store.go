package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/progress"
	"github.com/crawlkit/crawlkit/internal/store"
)

// StoreSink persists per-site fetch counters via a store.StatsRepository. It
// collapses each batch into one delta per (request, site, status class) to
// reduce write amplification. Request lifecycle rows are owned by the
// orchestrator, so state events pass through untouched.
type StoreSink struct {
	repo   store.StatsRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatsRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		if evt.Type != progress.TypeResult {
			continue
		}
		s.recordSiteStats(stats, evt)
	}

	for key, delta := range stats {
		if delta.pages == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.requestID,
			key.site,
			delta.pages,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordSiteStats(stats map[statsKey]*statsDelta, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := statsKey{
		requestID:   evt.RequestID,
		site:        evt.Site,
		statusClass: string(evt.StatusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.pages++
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	requestID   uuid.UUID
	site        string
	statusClass string
}

type statsDelta struct {
	pages int64
	bytes int64
	at    time.Time
}
