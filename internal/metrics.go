package internal

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects client-side Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	sessionEvents  *prometheus.CounterVec
	facetDrops     prometheus.Counter
	imageAttempts  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. When reg is
// nil the collectors still count but are not exported anywhere. Collectors
// already registered on reg, for example by another Session, are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsky_xrpc_requests_total",
			Help: "XRPC requests by method NSID and HTTP status.",
		}, []string{"nsid", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bsky_xrpc_request_duration_seconds",
			Help:    "XRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"nsid"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsky_session_events_total",
			Help: "Session lifecycle events (login, refresh, cache_load, logout) by result.",
		}, []string{"event", "result"}),
		facetDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_facet_mentions_dropped_total",
			Help: "Mentions dropped because the handle could not be resolved.",
		}),
		imageAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bsky_image_fit_encodes",
			Help:    "Number of re-encodes needed to fit an image under the upload ceiling.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.requestLatency, err = register(reg, m.requestLatency); err != nil {
		return nil, err
	}
	if m.sessionEvents, err = register(reg, m.sessionEvents); err != nil {
		return nil, err
	}
	if m.facetDrops, err = register(reg, m.facetDrops); err != nil {
		return nil, err
	}
	if m.imageAttempts, err = register(reg, m.imageAttempts); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("registering metrics: %w", err)
}

// RecordRequest records one completed XRPC round trip. status is 0 when no
// response was received.
func (m *Metrics) RecordRequest(nsid string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(nsid, label).Inc()
	m.requestLatency.WithLabelValues(nsid).Observe(d.Seconds())
}

// RecordSessionEvent records a login/refresh/cache_load/logout outcome.
func (m *Metrics) RecordSessionEvent(event string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.sessionEvents.WithLabelValues(event, result).Inc()
}

// RecordFacetDrop records a mention dropped for failing resolution.
func (m *Metrics) RecordFacetDrop() {
	if m == nil {
		return
	}
	m.facetDrops.Inc()
}

// RecordImageEncodes records how many re-encodes an image needed.
func (m *Metrics) RecordImageEncodes(n int) {
	if m == nil {
		return
	}
	m.imageAttempts.Observe(float64(n))
}
