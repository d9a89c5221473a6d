package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SessionsTotal     *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	SessionLLMTime    *prometheus.HistogramVec
	SessionToolTime   prometheus.Histogram
	SessionTokensIn   prometheus.Histogram
	SessionTokensOut  prometheus.Histogram
	SessionToolCalls  prometheus.Histogram
	LLMCallsTotal     prometheus.Counter
	LLMTokensIn       prometheus.Counter
	LLMTokensOut      prometheus.Counter
	LLMDuration       prometheus.Histogram
	ToolCallsTotal    *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	ToolInputBytes    *prometheus.HistogramVec
	ToolOutputBytes   *prometheus.HistogramVec
	IssuesTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnhalla_sessions_total",
			Help: "Total triage sessions by final state and verdict.",
		}, []string{"state", "verdict"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_duration_seconds",
			Help:    "Duration of triage sessions in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"verdict", "model"}),
		SessionLLMTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_llm_time_seconds",
			Help:    "Total LLM time per triage session in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"model"}),
		SessionToolTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_tool_time_seconds",
			Help:    "Total tool execution time per triage session in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		SessionTokensIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_tokens_input",
			Help:    "Input tokens consumed per triage session.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}),
		SessionTokensOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_tokens_output",
			Help:    "Output tokens consumed per triage session.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}),
		SessionToolCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnhalla_session_tool_calls",
			Help:    "Tool calls per triage session.",
			Buckets: prometheus.LinearBuckets(0, 1, 16), // 0 .. 15
		}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vulnhalla_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vulnhalla_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vulnhalla_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnhalla_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnhalla_tool_calls_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnhalla_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"tool"}),
		ToolInputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnhalla_tool_input_bytes",
			Help:    "Size of tool input in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		ToolOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnhalla_tool_output_bytes",
			Help:    "Size of tool output in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		IssuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnhalla_issues_total",
			Help: "Total issues handled by the scheduler, by disposition.",
		}, []string{"disposition"}),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.SessionDuration,
		m.SessionLLMTime,
		m.SessionToolTime,
		m.SessionTokensIn,
		m.SessionTokensOut,
		m.SessionToolCalls,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolInputBytes,
		m.ToolOutputBytes,
		m.IssuesTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnToolCall: func(name string, duration float64, inputBytes, outputBytes int, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(name, status).Inc()
			m.ToolDuration.WithLabelValues(name).Observe(duration)
			m.ToolInputBytes.WithLabelValues(name).Observe(float64(inputBytes))
			m.ToolOutputBytes.WithLabelValues(name).Observe(float64(outputBytes))
		},
		OnComplete: func(e *CompleteEvent) {
			m.SessionsTotal.WithLabelValues(string(e.State), string(e.Verdict)).Inc()
			m.SessionDuration.WithLabelValues(string(e.Verdict), e.Model).Observe(e.Duration)
			m.SessionLLMTime.WithLabelValues(e.Model).Observe(e.LLMTime)
			m.SessionToolTime.Observe(e.ToolTime)
			m.SessionTokensIn.Observe(float64(e.TokensIn))
			m.SessionTokensOut.Observe(float64(e.TokensOut))
			m.SessionToolCalls.Observe(float64(e.ToolCalls))
		},
	}
}
