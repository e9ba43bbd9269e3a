package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestStatsStoreAccumulates sums page and byte deltas per status class.
func TestStatsStoreAccumulates(t *testing.T) {
	t.Parallel()

	s := NewStatsStore()
	ctx := context.Background()
	requestID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "example.com", 1, 1000, "2xx", now))
	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "example.com", 1, 500, "2xx", now.Add(time.Second)))
	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "example.com", 1, 120, "4xx", now.Add(2*time.Second)))

	sites, err := s.ListRequestSites(ctx, requestID, 10, 0)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, "example.com", sites[0].Site)
	require.Equal(t, int64(3), sites[0].Pages)
	require.Equal(t, int64(1620), sites[0].BytesTotal)
	require.Equal(t, int64(2), sites[0].Fetch2xx)
	require.Equal(t, int64(1), sites[0].Fetch4xx)
	require.Equal(t, now.Add(2*time.Second), sites[0].LastUpdate)
}

// TestStatsStoreOrdersByRecency lists the most recently updated site first and
// honors limit and offset.
func TestStatsStoreOrdersByRecency(t *testing.T) {
	t.Parallel()

	s := NewStatsStore()
	ctx := context.Background()
	requestID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "old.example.com", 1, 10, "2xx", now))
	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "new.example.com", 1, 10, "2xx", now.Add(time.Minute)))
	require.NoError(t, s.UpsertSiteStats(ctx, requestID, "mid.example.com", 1, 10, "2xx", now.Add(time.Second)))

	sites, err := s.ListRequestSites(ctx, requestID, 2, 0)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, "new.example.com", sites[0].Site)
	require.Equal(t, "mid.example.com", sites[1].Site)

	rest, err := s.ListRequestSites(ctx, requestID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "old.example.com", rest[0].Site)

	none, err := s.ListRequestSites(ctx, requestID, 2, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

// TestStatsStoreIsolatesRequests never mixes counters across requests.
func TestStatsStoreIsolatesRequests(t *testing.T) {
	t.Parallel()

	s := NewStatsStore()
	ctx := context.Background()
	now := time.Now().UTC()
	reqA := uuid.New()
	reqB := uuid.New()

	require.NoError(t, s.UpsertSiteStats(ctx, reqA, "example.com", 5, 100, "2xx", now))
	require.NoError(t, s.UpsertSiteStats(ctx, reqB, "example.com", 1, 10, "5xx", now))

	sites, err := s.ListRequestSites(ctx, reqA, 10, 0)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, int64(5), sites[0].Pages)
	require.Zero(t, sites[0].Fetch5xx)
}
