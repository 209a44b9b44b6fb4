package internal

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("com.atproto.repo.createRecord", 200, time.Millisecond)
	m.RecordSessionEvent("login", nil)
	m.RecordFacetDrop()
	m.RecordImageEncodes(3)
}

func TestMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics returned error: %v", err)
	}

	m.RecordRequest(NSIDCreateRecord, 200, 10*time.Millisecond)
	m.RecordRequest(NSIDCreateRecord, 0, time.Millisecond)
	m.RecordSessionEvent("refresh", errors.New("revoked"))
	m.RecordSessionEvent("login", nil)
	m.RecordImageEncodes(2)

	if got := testutil.ToFloat64(m.requests.WithLabelValues(NSIDCreateRecord, "200")); got != 1 {
		t.Errorf("expected 1 ok request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(NSIDCreateRecord, "error")); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionEvents.WithLabelValues("refresh", "failure")); got != 1 {
		t.Errorf("expected 1 refresh failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionEvents.WithLabelValues("login", "success")); got != 1 {
		t.Errorf("expected 1 login success, got %v", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if n == 0 {
		t.Error("expected registered metrics to be gathered")
	}
}

func TestMetrics_UnregisteredStillCounts(t *testing.T) {
	m, err := NewMetrics(nil)
	if err != nil {
		t.Fatalf("NewMetrics returned error: %v", err)
	}
	m.RecordFacetDrop()
	if got := testutil.ToFloat64(m.facetDrops); got != 1 {
		t.Errorf("expected 1 drop, got %v", got)
	}
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("first NewMetrics returned error: %v", err)
	}
	second, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second NewMetrics returned error: %v", err)
	}

	first.RecordFacetDrop()
	second.RecordFacetDrop()
	first.RecordSessionEvent("login", nil)
	second.RecordSessionEvent("login", nil)

	if got := testutil.ToFloat64(first.facetDrops); got != 2 {
		t.Errorf("expected both instances to share the drop counter, got %v", got)
	}
	if got := testutil.ToFloat64(second.sessionEvents.WithLabelValues("login", "success")); got != 2 {
		t.Errorf("expected both instances to share session events, got %v", got)
	}
}

func TestMetrics_ConflictingCollectorIsAnError(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bsky_facet_mentions_dropped_total",
		Help: "Same name, different type.",
	}))

	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expected an error for a conflicting collector")
	}
}
