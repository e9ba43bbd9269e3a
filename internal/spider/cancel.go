package spider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// cancelRegistry tracks the cancellation token of each in-flight request so
// Stop can reach the worker from another goroutine.
type cancelRegistry struct {
	m sync.Map
}

func (r *cancelRegistry) store(id uuid.UUID, cancel context.CancelFunc) {
	r.m.Store(id, cancel)
}

func (r *cancelRegistry) delete(id uuid.UUID) {
	r.m.Delete(id)
}

func (r *cancelRegistry) cancel(id uuid.UUID) {
	if c, ok := r.m.Load(id); ok {
		c.(context.CancelFunc)()
	}
}
