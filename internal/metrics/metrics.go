// Package metrics holds the Prometheus collectors for inference calls, single-shot
// analyses and the live polling loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "emotionai"

var (
	InferenceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inference_requests_total",
		Help:      "Remote inference calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	InferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Latency of remote inference calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	SingleShots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "single_shots_total",
		Help:      "Single-shot dual analyses by outcome.",
	}, []string{"outcome"})

	LiveTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_ticks_total",
		Help:      "Live polling ticks by outcome.",
	}, []string{"outcome"})

	ModeSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mode_switches_total",
		Help:      "Mode transitions by target mode.",
	}, []string{"mode"})

	Loading = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loading",
		Help:      "1 while a single-shot analysis is in flight.",
	})
)

var allMetrics = []prometheus.Collector{
	InferenceRequests,
	InferenceDuration,
	SingleShots,
	LiveTicks,
	ModeSwitches,
	Loading,
}

// Single-shot outcomes.
const (
	ShotSuccess     = "success"
	ShotFailed      = "failed"
	ShotBusy        = "busy"
	ShotUnavailable = "unavailable"
	ShotStale       = "stale"
)

// Live tick outcomes.
const (
	TickApplied = "applied"
	TickNoFrame = "no_frame"
	TickFailed  = "failed"
	TickStale   = "stale"
	TickSkipped = "skipped"
)

// NewRegistry returns a registry with every collector plus the Go runtime ones.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ObserveInference records one remote call.
func ObserveInference(endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	InferenceRequests.WithLabelValues(endpoint, outcome).Inc()
	InferenceDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// SetLoading mirrors the session loading flag.
func SetLoading(loading bool) {
	if loading {
		Loading.Set(1)
		return
	}
	Loading.Set(0)
}
