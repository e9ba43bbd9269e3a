package spider

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	systemclock "github.com/crawlkit/crawlkit/internal/clock/system"
	"github.com/crawlkit/crawlkit/internal/crawl"
	idgen "github.com/crawlkit/crawlkit/internal/id/uuid"
	storemem "github.com/crawlkit/crawlkit/internal/store/memory"
)

func seedRequest(t *testing.T, requests *storemem.RequestStore, status crawl.Status) crawl.Request {
	t.Helper()
	id, err := idgen.New().NewID()
	require.NoError(t, err)
	req := crawl.Request{
		ID:        id,
		Kind:      crawl.KindCrawl,
		URL:       "http://localhost/",
		Status:    crawl.StatusNew,
		Submitted: time.Now().UTC(),
	}
	ctx := context.Background()
	require.NoError(t, requests.CreateRequest(ctx, req))
	if status != crawl.StatusNew {
		require.NoError(t, requests.UpdateStatus(ctx, req.ID, crawl.StatusRunning, ""))
	}
	if status.IsTerminal() {
		require.NoError(t, requests.UpdateStatus(ctx, req.ID, status, ""))
	}
	req.Status = status
	return req
}

func seedResult(t *testing.T, results *storemem.ResultStore, requestID uuid.UUID, rawURL string) {
	t.Helper()
	id, err := idgen.New().NewID()
	require.NoError(t, err)
	_, err = results.CreateResult(context.Background(), crawl.Result{
		ID:        id,
		RequestID: requestID,
		URL:       rawURL,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func collect(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

// TestCheckStatusFlushesResultsBeforeState drains every committed result
// before the single terminal state event closes the stream.
func TestCheckStatusFlushesResultsBeforeState(t *testing.T) {
	t.Parallel()

	requests := storemem.NewRequestStore(systemclock.New())
	results := storemem.NewResultStore()
	req := seedRequest(t, requests, crawl.StatusFinished)
	seedResult(t, results, req.ID, "http://localhost/a")
	seedResult(t, results, req.ID, "http://localhost/b")

	ch := CheckStatus(context.Background(), requests, results, req.ID, 10*time.Millisecond, nil)
	events := collect(t, ch)

	require.Len(t, events, 3)
	require.Equal(t, "result", events[0].Type)
	require.Equal(t, "result", events[1].Type)
	require.Equal(t, "state", events[2].Type)

	state, ok := events[2].Data.(StateData)
	require.True(t, ok)
	require.Equal(t, req.ID, state.ID)
	require.Equal(t, crawl.StatusFinished, state.Status)
}

// TestCheckStatusPollsUntilTerminal keeps streaming while the request runs and
// closes once the store shows a terminal status.
func TestCheckStatusPollsUntilTerminal(t *testing.T) {
	t.Parallel()

	requests := storemem.NewRequestStore(systemclock.New())
	results := storemem.NewResultStore()
	req := seedRequest(t, requests, crawl.StatusRunning)

	ch := CheckStatus(context.Background(), requests, results, req.ID, 10*time.Millisecond, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		seedResult(t, results, req.ID, "http://localhost/late")
		time.Sleep(30 * time.Millisecond)
		_ = requests.UpdateStatus(context.Background(), req.ID, crawl.StatusFinished, "")
	}()

	events := collect(t, ch)
	require.NotEmpty(t, events)
	require.Equal(t, "state", events[len(events)-1].Type)

	var sawResult bool
	for _, evt := range events[:len(events)-1] {
		require.Equal(t, "result", evt.Type)
		sawResult = true
	}
	require.True(t, sawResult)
}

// TestCheckStatusReportsFailure carries the error text on the state event.
func TestCheckStatusReportsFailure(t *testing.T) {
	t.Parallel()

	requests := storemem.NewRequestStore(systemclock.New())
	results := storemem.NewResultStore()
	req := seedRequest(t, requests, crawl.StatusRunning)
	require.NoError(t, requests.UpdateStatus(context.Background(), req.ID, crawl.StatusFailed, "no pages were fetched"))

	ch := CheckStatus(context.Background(), requests, results, req.ID, 10*time.Millisecond, nil)
	events := collect(t, ch)

	require.Len(t, events, 1)
	state, ok := events[0].Data.(StateData)
	require.True(t, ok)
	require.Equal(t, crawl.StatusFailed, state.Status)
	require.Equal(t, "no pages were fetched", state.Error)
}

// TestCheckStatusUnknownRequestCloses ends the stream without events when the
// request row is missing.
func TestCheckStatusUnknownRequestCloses(t *testing.T) {
	t.Parallel()

	requests := storemem.NewRequestStore(systemclock.New())
	results := storemem.NewResultStore()

	ch := CheckStatus(context.Background(), requests, results, uuid.New(), 10*time.Millisecond, nil)
	events := collect(t, ch)
	require.Empty(t, events)
}

// TestCheckStatusContextCancelCloses ends the stream when the client goes away
// even though the request never reaches a terminal status.
func TestCheckStatusContextCancelCloses(t *testing.T) {
	t.Parallel()

	requests := storemem.NewRequestStore(systemclock.New())
	results := storemem.NewResultStore()
	req := seedRequest(t, requests, crawl.StatusRunning)

	ctx, cancel := context.WithCancel(context.Background())
	ch := CheckStatus(ctx, requests, results, req.ID, 10*time.Millisecond, nil)
	cancel()

	events := collect(t, ch)
	for _, evt := range events {
		require.NotEqual(t, "state", evt.Type)
	}
}
