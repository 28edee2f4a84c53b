package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting orchestrator
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token consumption, and forced model switches
//   - Tool-call loop iterations, repeated-pattern aborts, and self-repair
//   - Context compaction runs and transcript sizes
//   - Tool execution patterns and latencies
//   - Error rates categorized by type and component
//   - Active session counts for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet", "success", elapsed, in, out)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LoopIterations counts tool-call loop iterations.
	// Labels: outcome (continue|complete|abort|ceiling)
	LoopIterations *prometheus.CounterVec

	// LoopAborts counts repeated-pattern aborts.
	// Labels: read_only (true|false)
	LoopAborts *prometheus.CounterVec

	// CompactionsRun counts compaction passes.
	// Labels: mode (intelligent|whole_turn), summarized (true|false)
	CompactionsRun *prometheus.CounterVec

	// SelfRepairs counts tool-call self-repair attempts.
	// Labels: outcome (repaired|unchanged|switched)
	SelfRepairs *prometheus.CounterVec

	// ModelSwitches counts forced and mutual-agreement slot switches.
	// Labels: reason (forced|mutual_agreement)
	ModelSwitches *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (loop|router|compaction|tool|session), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	ActiveSessions prometheus.Gauge

	// TranscriptBytes observes serialized transcript sizes at compaction
	// probe points.
	// Buckets: 10 KB .. 1 MB
	TranscriptBytes prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kimichat_llm_request_duration_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_llm_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LoopIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_loop_iterations_total",
				Help: "Tool-call loop iterations by outcome",
			},
			[]string{"outcome"},
		),
		LoopAborts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_loop_aborts_total",
				Help: "Repeated-pattern loop aborts",
			},
			[]string{"read_only"},
		),
		CompactionsRun: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_compactions_total",
				Help: "Context compaction passes by mode",
			},
			[]string{"mode", "summarized"},
		),
		SelfRepairs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_self_repairs_total",
				Help: "Tool-call self-repair attempts by outcome",
			},
			[]string{"outcome"},
		),
		ModelSwitches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_model_switches_total",
				Help: "Model slot switches by reason",
			},
			[]string{"reason"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_tool_executions_total",
				Help: "Tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kimichat_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kimichat_errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kimichat_active_sessions",
				Help: "Currently active sessions",
			},
		),
		TranscriptBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kimichat_transcript_bytes",
				Help:    "Serialized transcript size at compaction probe points",
				Buckets: []float64{10_000, 50_000, 100_000, 200_000, 400_000, 600_000, 1_000_000},
			},
		),
	}
}

// RecordLLMRequest records one completed LLM request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLoopIteration records a loop iteration outcome.
func (m *Metrics) RecordLoopIteration(outcome string) {
	if m == nil {
		return
	}
	m.LoopIterations.WithLabelValues(outcome).Inc()
}

// RecordLoopAbort records a repeated-pattern abort.
func (m *Metrics) RecordLoopAbort(readOnly bool) {
	if m == nil {
		return
	}
	m.LoopAborts.WithLabelValues(boolLabel(readOnly)).Inc()
}

// RecordCompaction records one compaction pass and the transcript size
// that triggered it.
func (m *Metrics) RecordCompaction(mode string, summarized bool, transcriptBytes int) {
	if m == nil {
		return
	}
	m.CompactionsRun.WithLabelValues(mode, boolLabel(summarized)).Inc()
	if transcriptBytes > 0 {
		m.TranscriptBytes.Observe(float64(transcriptBytes))
	}
}

// RecordSelfRepair records a self-repair attempt outcome.
func (m *Metrics) RecordSelfRepair(outcome string) {
	if m == nil {
		return
	}
	m.SelfRepairs.WithLabelValues(outcome).Inc()
}

// RecordModelSwitch records a slot switch.
func (m *Metrics) RecordModelSwitch(reason string) {
	if m == nil {
		return
	}
	m.ModelSwitches.WithLabelValues(reason).Inc()
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
