package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/store"
)

type statsKey struct {
	requestID uuid.UUID
	site      string
}

// StatsStore aggregates per-site fetch counters in memory.
type StatsStore struct {
	mu    sync.Mutex
	stats map[statsKey]*store.SiteStats
}

// NewStatsStore builds an empty StatsStore.
func NewStatsStore() *StatsStore {
	return &StatsStore{stats: make(map[statsKey]*store.SiteStats)}
}

// UpsertSiteStats applies page/byte deltas per (request, site, statusClass).
func (s *StatsStore) UpsertSiteStats(
	_ context.Context,
	requestID uuid.UUID,
	site string,
	deltaPages,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statsKey{requestID: requestID, site: site}
	stat := s.stats[key]
	if stat == nil {
		stat = &store.SiteStats{RequestID: requestID, Site: site}
		s.stats[key] = stat
	}
	stat.Pages += deltaPages
	stat.BytesTotal += deltaBytes
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaPages
	case "3xx":
		stat.Fetch3xx += deltaPages
	case "4xx":
		stat.Fetch4xx += deltaPages
	case "5xx":
		stat.Fetch5xx += deltaPages
	}
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	return nil
}

// ListRequestSites returns aggregated site stats for one request, most
// recently updated first.
func (s *StatsStore) ListRequestSites(_ context.Context, requestID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SiteStats
	for key, stat := range s.stats {
		if key.requestID == requestID {
			out = append(out, *stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdate.After(out[j].LastUpdate) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
