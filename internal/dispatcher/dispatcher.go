// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// Handler executes one request kind end to end.
type Handler interface {
	Run(ctx context.Context, requestID uuid.UUID) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, requestID uuid.UUID) error

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, requestID uuid.UUID) error {
	return f(ctx, requestID)
}

// Dispatcher fans out queued tasks to registered handlers. Handlers are bound
// to request kinds through an explicit registration table so the routing is
// visible at the call site that builds the dispatcher.
type Dispatcher struct {
	queue    crawl.Queue
	handlers map[crawl.Kind]Handler
	workers  int
	logger   *zap.Logger
}

// New creates a Dispatcher with the given worker count.
func New(queue crawl.Queue, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		handlers: make(map[crawl.Kind]Handler),
		workers:  workers,
		logger:   logger,
	}
}

// Register binds a handler to a request kind. Must be called before Run.
func (d *Dispatcher) Register(kind crawl.Kind, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for kind %q", kind)
	}
	if _, ok := d.handlers[kind]; ok {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}
	d.handlers[kind] = h
	return nil
}

// Run starts the worker pool and blocks until the context finishes and all
// in-flight handlers return.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		handler, ok := d.handlers[task.Kind]
		if !ok {
			logger.Warn("no handler registered for task kind",
				zap.String("kind", string(task.Kind)),
				zap.String("request_id", task.RequestID.String()))
			continue
		}
		if err := handler.Run(ctx, task.RequestID); err != nil {
			logger.Error("task handler failed",
				zap.String("kind", string(task.Kind)),
				zap.String("request_id", task.RequestID.String()),
				zap.Error(err))
		}
	}
}
