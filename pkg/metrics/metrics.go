// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locrit_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locrit_api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ScheduledRunsActive tracks scheduled conversations currently running or paused.
	ScheduledRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locrit_scheduled_runs_active",
			Help: "Scheduled conversations currently live",
		},
	)

	// ScheduledRunsTotal counts scheduled conversations by outcome.
	ScheduledRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locrit_scheduled_runs_total",
			Help: "Scheduled conversations by lifecycle outcome",
		},
		[]string{"outcome"},
	)

	// GeneratedMessagesTotal counts generated turns per conversation style.
	GeneratedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locrit_generated_messages_total",
			Help: "Messages generated by scheduled conversations",
		},
		[]string{"style", "generator"},
	)

	// PersistenceFailuresTotal counts failed collaborator writes.
	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locrit_persistence_failures_total",
			Help: "Failed conversation or message writes",
		},
		[]string{"operation"},
	)

	// ChatChunksTotal counts streamed chunks by how the reconciler treated them.
	ChatChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locrit_chat_chunks_total",
			Help: "Streamed chat chunks by result",
		},
		[]string{"result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locrit_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// LLMGenerationDuration tracks LLM-backed turn generation latency.
	LLMGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locrit_llm_generation_duration_seconds",
			Help:    "LLM turn generation duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRunStarted marks a scheduled conversation as live.
func RecordRunStarted() {
	ScheduledRunsActive.Inc()
	ScheduledRunsTotal.WithLabelValues("started").Inc()
}

// RecordRunEnded marks a scheduled conversation as finished for the given reason.
func RecordRunEnded(reason string) {
	ScheduledRunsActive.Dec()
	ScheduledRunsTotal.WithLabelValues(reason).Inc()
}

// RecordGenerated counts one generated turn.
func RecordGenerated(style, generator string) {
	GeneratedMessagesTotal.WithLabelValues(style, generator).Inc()
}

// RecordPersistenceFailure counts one failed collaborator write.
func RecordPersistenceFailure(operation string) {
	PersistenceFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordChunk counts one chat chunk; result is "appended", "created" or "dropped".
func RecordChunk(result string) {
	ChatChunksTotal.WithLabelValues(result).Inc()
}

// RecordLLMGeneration records one LLM turn generation.
func RecordLLMGeneration(provider, status string, duration float64) {
	LLMGenerationDuration.WithLabelValues(provider, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
