package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the question-answering pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Steps           *prometheus.CounterVec
	Branches        *prometheus.CounterVec
	GuardRemaps     *prometheus.CounterVec
	ActiveStreams   *prometheus.GaugeVec
}

// NewMetrics constructs a dedicated registry with the pipeline collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kgqa_requests_total",
		Help: "Answered questions by outcome",
	}, []string{"outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kgqa_request_duration_seconds",
		Help:    "Time from question to final answer",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kgqa_steps_total",
		Help: "Executed plan steps by capability and outcome",
	}, []string{"capability", "outcome"})

	branches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kgqa_fanout_branches_total",
		Help: "Fan-out branches by outcome",
	}, []string{"outcome"})

	remaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kgqa_guard_remaps_total",
		Help: "Hallucinated tool names rewritten before execution, by target",
	}, []string{"target"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kgqa_active_streams",
		Help: "Answer streams currently open by transport",
	}, []string{"transport"})

	reg.MustRegister(reqs, durs, steps, branches, remaps, active)

	return &Metrics{
		registry:        reg,
		Requests:        reqs,
		RequestDuration: durs,
		Steps:           steps,
		Branches:        branches,
		GuardRemaps:     remaps,
		ActiveStreams:   active,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts a finished question and its latency.
func (m *Metrics) RecordRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	outcome = orUnknown(outcome)
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordStep counts one executed step.
func (m *Metrics) RecordStep(capability string, failed bool) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(orUnknown(capability), outcomeOf(failed)).Inc()
}

// RecordBranch counts one fan-out branch.
func (m *Metrics) RecordBranch(failed bool) {
	if m == nil {
		return
	}
	m.Branches.WithLabelValues(outcomeOf(failed)).Inc()
}

// RecordRemap counts one guard rewrite.
func (m *Metrics) RecordRemap(target string) {
	if m == nil {
		return
	}
	m.GuardRemaps.WithLabelValues(orUnknown(target)).Inc()
}

func (m *Metrics) IncActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(orUnknown(transport)).Inc()
}

func (m *Metrics) DecActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(orUnknown(transport)).Dec()
}

func outcomeOf(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
