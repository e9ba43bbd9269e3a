// Package sinks holds the progress.Sink implementations bundled with the
// service: structured logging, Prometheus collectors, and request stats
// persistence.
package sinks
