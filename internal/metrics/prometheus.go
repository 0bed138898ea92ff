package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// PrometheusMetrics holds the exported series for the benchmark engine.
type PrometheusMetrics struct {
	AttemptsTotal *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec

	CurrentTPS prometheus.Gauge
	TargetTPS  prometheus.Gauge
	InFlight   prometheus.Gauge
	RunStatus  *prometheus.GaugeVec

	AttemptLatency  *prometheus.HistogramVec
	EndpointLatency *prometheus.HistogramVec
	FeeGwei         prometheus.Histogram
}

// NewPrometheusMetrics creates and registers all series. A nil registerer
// uses the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainbench_attempts_total",
				Help: "Terminal attempt results by outcome and network",
			},
			[]string{"outcome", "network"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainbench_errors_total",
				Help: "Failed attempts by error class and network",
			},
			[]string{"class", "network"},
		),

		CurrentTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainbench_current_tps",
				Help: "Accepted transactions per second over the current run",
			},
		),

		TargetTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainbench_target_tps",
				Help: "Target dispatch rate of the current run",
			},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainbench_in_flight_tasks",
				Help: "Tasks dispatched but not yet terminal",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainbench_run_status",
				Help: "Current run status (1 for the active status, 0 otherwise)",
			},
			[]string{"status"},
		),

		AttemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainbench_attempt_latency_seconds",
				Help:    "End-to-end attempt latency, dispatch to terminal outcome",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"network"},
		),

		EndpointLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainbench_endpoint_latency_seconds",
				Help:    "Per-endpoint RPC latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"endpoint"},
		),

		FeeGwei: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainbench_fee_gwei",
				Help:    "Fee per gas paid by terminal attempts, in gwei",
				Buckets: []float64{0, 0.5, 1, 2, 5, 10, 20, 50, 100},
			},
		),
	}
}

// RecordAttempt exports one terminal attempt result.
func (m *PrometheusMetrics) RecordAttempt(network string, res types.AttemptResult) {
	m.AttemptsTotal.WithLabelValues(string(res.Outcome), network).Inc()
	m.AttemptLatency.WithLabelValues(network).Observe(res.LatencyMs / 1000)
	if res.FeeWei > 0 {
		m.FeeGwei.Observe(float64(res.FeeWei) / 1e9)
	}
	if !res.Accepted() {
		class := res.Class
		if class == types.ErrClassNone {
			class = types.ErrClassUnknown
		}
		m.ErrorsTotal.WithLabelValues(string(class), network).Inc()
	}
}

// RecordEndpointLatency exports one RPC round trip.
func (m *PrometheusMetrics) RecordEndpointLatency(endpoint string, seconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(seconds)
}

// SetRunStatus flips the status gauges so exactly one is set.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range []types.RunStatus{
		types.StatusIdle, types.StatusWarmup, types.StatusRunning,
		types.StatusDraining, types.StatusComplete, types.StatusError,
	} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.RunStatus.WithLabelValues(string(s)).Set(v)
	}
}

// SetCurrentTPS updates the observed throughput gauge.
func (m *PrometheusMetrics) SetCurrentTPS(tps float64) {
	m.CurrentTPS.Set(tps)
}

// SetTargetTPS updates the target rate gauge.
func (m *PrometheusMetrics) SetTargetTPS(tps float64) {
	m.TargetTPS.Set(tps)
}

// SetInFlight updates the in-flight task gauge.
func (m *PrometheusMetrics) SetInFlight(count int64) {
	m.InFlight.Set(float64(count))
}
