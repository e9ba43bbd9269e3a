// Package fetch implements the page fetch pipeline: plain HTTP via colly,
// robots enforcement, and JavaScript rendering through a remote service or an
// in-process chromedp engine.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies per-URL failures for diagnostics. Every kind is
// recoverable at the crawl level: the page is skipped and processing continues.
type FailureKind string

// Failure kinds surfaced in progress diagnostics.
const (
	// FailureConnection covers DNS failures, timeouts, and refused connections.
	FailureConnection FailureKind = "connection"
	// FailureAuth covers 401/403 from the target or the rendering service.
	FailureAuth FailureKind = "auth"
	// FailureUpstream covers other non-2xx/3xx page responses.
	FailureUpstream FailureKind = "upstream"
	// FailureRender covers rendering-service request errors.
	FailureRender FailureKind = "render"
	// FailureRobots marks pages disallowed by robots.txt.
	FailureRobots FailureKind = "robots"
)

// Error is a classified per-URL fetch failure.
type Error struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with the failure taxonomy derived from the status code
// and error shape.
func Classify(rawURL string, statusCode int, err error) *Error {
	kind := FailureConnection
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = FailureAuth
	case statusCode >= 400:
		kind = FailureUpstream
	case err != nil:
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			kind = FailureConnection
		}
	}
	if err == nil {
		err = fmt.Errorf("status %d", statusCode)
	}
	return &Error{Kind: kind, URL: rawURL, StatusCode: statusCode, Err: err}
}
