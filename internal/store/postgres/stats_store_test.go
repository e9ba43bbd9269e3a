package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

// TestUpsertSiteStatsIncrementsStatusColumn routes the delta into the matching
// fetch counter.
func TestUpsertSiteStatsIncrementsStatusColumn(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStatsStore(mock)
	requestID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO site_stats (.+)fetch_2xx").
		WithArgs(requestID, "example.com", at, int64(1), int64(2048)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.UpsertSiteStats(context.Background(), requestID, "example.com", 1, 2048, "2xx", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertSiteStatsUnknownClass still counts pages and bytes without a
// status column.
func TestUpsertSiteStatsUnknownClass(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStatsStore(mock)
	requestID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO site_stats \\(request_id, site, last_update, pages, bytes_total\\)").
		WithArgs(requestID, "example.com", at, int64(1), int64(512)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.UpsertSiteStats(context.Background(), requestID, "example.com", 1, 512, "other", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestListRequestSitesScansRows preserves the recency ordering from SQL.
func TestListRequestSitesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStatsStore(mock)
	requestID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	columns := []string{
		"request_id", "site", "last_update", "pages", "bytes_total",
		"fetch_2xx", "fetch_3xx", "fetch_4xx", "fetch_5xx",
	}
	mock.ExpectQuery("SELECT (.+) FROM site_stats").
		WithArgs(requestID, 10, 0).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(requestID, "b.example.com", now.Add(time.Minute), int64(4), int64(4096), int64(3), int64(0), int64(1), int64(0)).
			AddRow(requestID, "a.example.com", now, int64(1), int64(100), int64(1), int64(0), int64(0), int64(0)))

	sites, err := s.ListRequestSites(context.Background(), requestID, 10, 0)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, "b.example.com", sites[0].Site)
	require.Equal(t, int64(4), sites[0].Pages)
	require.Equal(t, int64(1), sites[0].Fetch4xx)
	require.Equal(t, "a.example.com", sites[1].Site)
	require.NoError(t, mock.ExpectationsWereMet())
}
