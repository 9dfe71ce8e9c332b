// Package monitoring exposes the fleet's Prometheus metrics (spec SPEC_FULL
// §4.4): station connection counts, active transactions, per-command
// request outcomes, and the UI server's aggregate request latency.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector registered by the simulator.
type Metrics struct {
	StationsConnected   prometheus.Gauge
	TransactionsActive  prometheus.Gauge
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	UIRequestsTotal     *prometheus.CounterVec
	UIAggregateDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StationsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ocpp_stations_connected",
			Help: "Number of simulated stations with an open supervision WebSocket.",
		}),
		TransactionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ocpp_transactions_active",
			Help: "Number of connectors currently in an active transaction.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_requests_total",
			Help: "Total outgoing OCPP CALLs issued, by command and outcome.",
		}, []string{"command", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocpp_request_duration_seconds",
			Help:    "Latency of outgoing OCPP CALLs from issue to resolution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		UIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ui_requests_total",
			Help: "Total control-plane procedure invocations, by procedure and status.",
		}, []string{"procedure", "status"}),
		UIAggregateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ui_aggregate_duration_seconds",
			Help:    "Time to aggregate all expected station responses for one UI request.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordRequest records an outgoing OCPP CALL's outcome and latency.
func (m *Metrics) RecordRequest(command, outcome string, seconds float64) {
	m.RequestsTotal.WithLabelValues(command, outcome).Inc()
	m.RequestDuration.WithLabelValues(command).Observe(seconds)
}

// RecordUIRequest records one control-plane procedure invocation.
func (m *Metrics) RecordUIRequest(procedure, status string) {
	m.UIRequestsTotal.WithLabelValues(procedure, status).Inc()
}

// RecordAggregate records the wall-clock time to fully aggregate one UI
// request's fan-out responses.
func (m *Metrics) RecordAggregate(seconds float64) {
	m.UIAggregateDuration.Observe(seconds)
}
