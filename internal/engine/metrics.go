package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время работы обработчика инструмента
	ToolDuration *prometheus.HistogramVec

	// Traffic: фактические запуски обработчиков по статусу (success/failure)
	ToolExecutions *prometheus.CounterVec

	// Отказы до запуска обработчика: validation, unknown_tool, unknown_action, not_permitted
	Rejections *prometheus.CounterVec

	// Confirmation gate
	ConfirmationsRequested *prometheus.CounterVec
	PendingConfirmations   prometheus.Gauge

	// Фолбэки стадий восприятия и планирования
	LLMFallbacks *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker коннекторов (0 - closed, 0.5 - half-open, 1 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если реестр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ToolDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_tool_duration_seconds",
			Help:    "Histogram of tool handler latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool_id"}),

		ToolExecutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_tool_executions_total",
			Help: "Total number of tool handler executions.",
		}, []string{"tool_id", "status"}),

		Rejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_rejections_total",
			Help: "Dispatches rejected before the handler ran, by reason.",
		}, []string{"reason"}),

		ConfirmationsRequested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_confirmations_requested_total",
			Help: "Calls held by the confirmation gate.",
		}, []string{"tool_id"}),

		PendingConfirmations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_pending_confirmations",
			Help: "Current number of unresolved confirmations.",
		}),

		LLMFallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_llm_fallbacks_total",
			Help: "Turns where a stage fell back to deterministic logic.",
		}, []string{"stage"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_connector_circuit_breaker_state",
			Help: "Current state of the connector circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"connector_id"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_audit_buffer_utilization",
			Help: "Current number of records in audit buffer.",
		}),
	}
}
