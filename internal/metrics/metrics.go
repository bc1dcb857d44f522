package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across both processes.
type Metrics struct {
	JobsProcessed  *prometheus.CounterVec
	CallsInitiated *prometheus.CounterVec
	TurnsProcessed *prometheus.CounterVec
	LLMRequests    *prometheus.CounterVec
	LLMLatency     *prometheus.HistogramVec
	LeadOutcomes   *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_jobs_total",
				Help:      "Total dispatch jobs processed by outcome and block reason.",
			}, []string{"outcome", "reason"}),
			CallsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_initiated_total",
				Help:      "Total calls handed to the telephony provider by direction.",
			}, []string{"direction"}),
			TurnsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_turns_total",
				Help:      "Total conversation turns processed by resulting state.",
			}, []string{"state"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM requests by operation and outcome.",
			}, []string{"operation", "status"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for LLM calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			LeadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lead_outcomes_total",
				Help:      "Total lead evaluations by resulting contact status.",
			}, []string{"status"}),
			MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total outbound SMS by purpose.",
			}, []string{"purpose"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.JobsProcessed,
			metricsInstance.CallsInitiated,
			metricsInstance.TurnsProcessed,
			metricsInstance.LLMRequests,
			metricsInstance.LLMLatency,
			metricsInstance.LeadOutcomes,
			metricsInstance.MessagesSent,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// RecordJob satisfies the queue worker's Recorder. Failed and
// exhausted outcomes also count against the dispatch error total.
func (m *Metrics) RecordJob(outcome, reason string) {
	m.JobsProcessed.WithLabelValues(outcome, reason).Inc()
	if outcome == "failed" || outcome == "exhausted" {
		m.Errors.WithLabelValues("dispatch").Inc()
	}
}

// ObserveTurn satisfies the dialogue engine's Observer.
func (m *Metrics) ObserveTurn(state string) {
	m.TurnsProcessed.WithLabelValues(state).Inc()
}

// ObserveCall counts one call handed to the provider.
func (m *Metrics) ObserveCall(direction string) {
	m.CallsInitiated.WithLabelValues(direction).Inc()
}

// ObserveLead satisfies the lead evaluator's Observer.
func (m *Metrics) ObserveLead(status string) {
	m.LeadOutcomes.WithLabelValues(status).Inc()
}

// ObserveMessage counts one outbound SMS.
func (m *Metrics) ObserveMessage(purpose string) {
	m.MessagesSent.WithLabelValues(purpose).Inc()
}

// ObserveLLM records one LLM round trip.
func (m *Metrics) ObserveLLM(operation, status string, elapsed time.Duration) {
	m.LLMRequests.WithLabelValues(operation, status).Inc()
	m.LLMLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	if status != "ok" {
		m.Errors.WithLabelValues("llm").Inc()
	}
}
