package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/progress"
)

// PrometheusSink exports spider progress metrics via Prometheus. It owns all
// collectors for request lifecycle and per-site fetch counters.
type PrometheusSink struct {
	requestsStarted   prometheus.Counter
	requestsCompleted *prometheus.CounterVec
	requestsRunning   prometheus.Gauge
	requestRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchWarnings *prometheus.CounterVec

	tracker *requestTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spider_requests_started_total",
			Help: "Total requests that have started running.",
		}),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_requests_completed_total",
			Help: "Total requests that reached a terminal status, partitioned by status.",
		}, []string{"status"}),
		requestsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_requests_running",
			Help: "Current number of running requests.",
		}),
		requestRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spider_request_runtime_seconds",
			Help:    "Wall time per completed request.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spider_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		fetchWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_fetch_warnings_total",
			Help: "Recoverable per-URL failures partitioned by site.",
		}, []string{"site"}),
		tracker: newRequestTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.requestsStarted,
		s.requestsCompleted,
		s.requestsRunning,
		s.requestRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.fetchWarnings,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypeState:
		s.handleStateEvent(evt)
	case progress.TypeResult:
		s.handleResultEvent(evt)
	case progress.TypeWarning, progress.TypeError:
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.fetchWarnings.WithLabelValues(site).Inc()
	}
}

func (s *PrometheusSink) handleStateEvent(evt progress.Event) {
	switch {
	case evt.Status == crawl.StatusRunning:
		s.requestsStarted.Inc()
		if s.tracker.start(evt.RequestID) {
			s.requestsRunning.Inc()
		}
	case evt.Status.IsTerminal():
		s.requestsCompleted.WithLabelValues(string(evt.Status)).Inc()
		if evt.Dur > 0 {
			s.requestRuntime.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RequestID) {
			s.requestsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) handleResultEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type requestTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{running: make(map[[16]byte]struct{})}
}

func (t *requestTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *requestTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
