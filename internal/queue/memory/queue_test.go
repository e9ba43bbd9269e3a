package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// TestQueueRoundTrip delivers tasks in FIFO order.
func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	first := crawl.Task{Kind: crawl.KindCrawl, RequestID: uuid.New()}
	second := crawl.Task{Kind: crawl.KindSitemap, RequestID: uuid.New()}

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

// TestQueueEnqueueBlocksUntilCancel respects the context when the queue is full.
func TestQueueEnqueueBlocksUntilCancel(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawl.Task{Kind: crawl.KindCrawl, RequestID: uuid.New()}))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(cancelCtx, crawl.Task{Kind: crawl.KindCrawl, RequestID: uuid.New()})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestQueueDequeueRespectsContext returns once the caller gives up waiting.
func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestQueueCloseDrainsThenErrors lets buffered tasks drain and errors afterward.
func TestQueueCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	task := crawl.Task{Kind: crawl.KindSearch, RequestID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, task))

	q.Close()
	q.Close() // idempotent

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, task, got)

	_, err = q.Dequeue(ctx)
	require.Error(t, err)
}
