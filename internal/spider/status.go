package spider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// StreamEvent is the client-facing message shape carried by the status
// stream: {type: "result"|"state", data: ...}.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StateData is the payload of a state event.
type StateData struct {
	ID       uuid.UUID     `json:"id"`
	Status   crawl.Status  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CheckStatus returns a channel that yields newly created results roughly
// every interval while the request is active, then a final state event once
// the request row shows a terminal status, and closes. The status is read
// before the results on each tick, so every result committed before the
// terminal transition is flushed ahead of the final state event. The stream
// terminates even if the backing task died silently, because it keys off the
// persisted status, not the worker.
func CheckStatus(
	ctx context.Context,
	requests crawl.RequestStore,
	results crawl.ResultStore,
	requestID uuid.UUID,
	interval time.Duration,
	logger *zap.Logger,
) <-chan StreamEvent {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(chan StreamEvent)

	go func() {
		defer close(out)
		cursor := 0
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			req, err := requests.GetRequest(ctx, requestID)
			if err != nil {
				logger.Warn("status poll failed", zap.String("request_id", requestID.String()), zap.Error(err))
				return
			}

			newResults, nextCursor, err := results.ListResults(ctx, requestID, cursor)
			if err != nil {
				logger.Warn("result poll failed", zap.String("request_id", requestID.String()), zap.Error(err))
				return
			}
			cursor = nextCursor
			for _, res := range newResults {
				if !send(ctx, out, StreamEvent{Type: "result", Data: res}) {
					return
				}
			}

			if req.Status.IsTerminal() {
				send(ctx, out, StreamEvent{Type: "state", Data: StateData{
					ID:       req.ID,
					Status:   req.Status,
					Error:    req.Error,
					Duration: req.Duration,
				}})
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

func send(ctx context.Context, out chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
