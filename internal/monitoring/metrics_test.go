package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest("Heartbeat", "accepted", 0.01)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("Heartbeat", "accepted")); got != 1 {
		t.Fatalf("RequestsTotal = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RequestDuration); got != 1 {
		t.Fatalf("RequestDuration series = %d, want 1", got)
	}
}

func TestRecordUIRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordUIRequest("heartbeat", "success")
	m.RecordUIRequest("heartbeat", "success")

	if got := testutil.ToFloat64(m.UIRequestsTotal.WithLabelValues("heartbeat", "success")); got != 2 {
		t.Fatalf("UIRequestsTotal = %v, want 2", got)
	}
}

func TestStationsConnectedGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.StationsConnected.Set(3)
	if got := testutil.ToFloat64(m.StationsConnected); got != 3 {
		t.Fatalf("StationsConnected = %v, want 3", got)
	}
}
