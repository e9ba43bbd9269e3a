package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(TypeResult)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(TypeResult))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(TypeResult))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubAttributesDropsToRequests counts discarded events per request so the
// backpressure report can name the worst offender, and resets on report.
func TestHubAttributesDropsToRequests(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:         Config{},
		events:      make(chan Event),
		logger:      zap.NewNop(),
		dropLimiter: rateLimiter{interval: time.Hour},
	}
	hub.dropLimiter.last.Store(time.Now().UnixNano())

	loud := sampleEvent(TypeResult)
	quiet := sampleEvent(TypeResult)
	for i := 0; i < 3; i++ {
		hub.Emit(loud)
	}
	hub.Emit(quiet)

	require.Equal(t, int64(3), hub.DroppedFor(loud.RequestID))
	require.Equal(t, int64(1), hub.DroppedFor(quiet.RequestID))

	total, worst, worstN := hub.drainDrops()
	require.Equal(t, int64(4), total)
	require.Equal(t, loud.RequestID, worst)
	require.Equal(t, int64(3), worstN)
	require.Zero(t, hub.DroppedFor(loud.RequestID))
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(TypeResult)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())
}

// TestHubDiscardsInvalidEvents drops events that fail validation before they
// reach any sink.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(Event{Type: TypeResult}) // missing request id, timestamp, site
	hub.Emit(sampleEvent(TypeResult))

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Len(t, sink.Batches()[0], 1)
}

// TestHubEmitAfterClose is a no-op instead of a panic or deadlock.
func TestHubEmitAfterClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(sampleEvent(TypeResult))
	require.Empty(t, sink.Batches())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(evtType Type) Event {
	evt := Event{
		RequestID: uuid.New(),
		TS:        time.Now().UTC(),
		Type:      evtType,
		Site:      "example.com",
	}
	switch evtType {
	case TypeResult:
		evt.ResultID = uuid.New()
		evt.URL = "https://example.com/page"
		evt.Bytes = 1024
		evt.StatusClass = Status2xx
	case TypeState:
		evt.Status = crawl.StatusRunning
	case TypeWarning, TypeError:
		evt.Note = "fetch failed"
	}
	return evt
}
