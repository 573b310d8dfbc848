// Package metrics provides Prometheus metrics for the plan analyzer.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline
	StageRunsTotal   *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	DocumentsByStage *prometheus.GaugeVec

	// Admission
	AdmissionsTotal *prometheus.CounterVec

	// Inference
	LLMCallsTotal   *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg
// (prometheus.DefaultRegisterer in the server, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plan_stage_runs_total",
				Help: "Pipeline stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plan_stage_duration_seconds",
				Help:    "Duration of pipeline stage handlers in seconds",
				Buckets: []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		DocumentsByStage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plan_documents",
				Help: "Documents per processing stage",
			},
			[]string{"stage"},
		),
		AdmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plan_admissions_total",
				Help: "Admission gate decisions",
			},
			[]string{"result"},
		),
		LLMCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plan_llm_calls_total",
				Help: "Inference calls by backend and status",
			},
			[]string{"backend", "status"},
		),
		LLMCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plan_llm_call_duration_seconds",
				Help:    "Duration of inference calls in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
	}
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageRunsTotal.WithLabelValues(stage, outcome).Inc()
	if d > 0 {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordAdmission records an admission decision; result is "accepted" or a rejection reason.
func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.WithLabelValues(result).Inc()
}

// RecordLLMCall records one inference call.
func (m *Metrics) RecordLLMCall(backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMCallsTotal.WithLabelValues(backend, status).Inc()
	m.LLMCallDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// SetStageCounts replaces the per-stage document gauge.
func (m *Metrics) SetStageCounts(counts map[constants.ProcessingStage]int) {
	if m == nil {
		return
	}
	for _, s := range append(constants.Stages(), constants.StageError) {
		m.DocumentsByStage.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

type instrumented struct {
	next llm.Client
	m    *Metrics
}

// InstrumentLLM wraps c so every call is counted and timed.
func InstrumentLLM(c llm.Client, m *Metrics) llm.Client {
	if m == nil {
		return c
	}
	return &instrumented{next: c, m: m}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Complete(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	out, err := i.next.Complete(ctx, req)
	i.m.RecordLLMCall(i.next.Name(), err, time.Since(start))
	return out, err
}
