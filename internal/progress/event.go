// Package progress defines the event bus carrying spider progress from
// workers to sinks (metrics, logs, stats persistence).
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// Type denotes the kind of progress carried by an Event. Result and state
// events mirror the client-facing stream; warning and error events are
// diagnostics for recoverable per-URL failures.
type Type string

// Supported progress event types.
const (
	TypeResult  Type = "result"
	TypeState   Type = "state"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single progress milestone for one request.
type Event struct {
	// RequestID identifies the owning crawl/sitemap/search request.
	RequestID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Type is result, state, warning, or error.
	Type Type
	// Status carries the request status for state events.
	Status crawl.Status
	// ResultID references the persisted result for result events.
	ResultID uuid.UUID
	// Site optionally scopes fetch events to a host label.
	Site string
	// URL is the page URL involved, if any.
	URL string
	// Bytes carries the response size delta for the fetch.
	Bytes int64
	// StatusClass groups HTTP response codes for result events.
	StatusClass StatusClass
	// Dur captures fetch latency.
	Dur time.Duration
	// Note attaches low-volume diagnostic context (e.g. failure taxonomy text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == uuid.Nil {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeState:
		if e.Status == "" {
			return errors.New("state event requires status")
		}
	case TypeResult:
		if e.Site == "" {
			return errors.New("result event requires site")
		}
	case TypeWarning, TypeError:
		if e.Note == "" {
			return errors.New("diagnostic event requires note")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for result events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
