package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the control plane's prometheus instruments.
type Metrics struct {
	InvocationDuration *prometheus.HistogramVec
	InvocationsTotal   *prometheus.CounterVec
	GuardrailDecisions *prometheus.CounterVec
	BudgetAlerts       *prometheus.CounterVec
	AgentRestarts      *prometheus.CounterVec
	AgentHealth        *prometheus.GaugeVec
	AuditBufferFill    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// A nil registerer still yields functional instruments; they are just
	// not exported anywhere.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InvocationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tower_invocation_duration_seconds",
			Help:    "Histogram of invocation latencies by terminal status.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"agent", "tool", "status"}),

		InvocationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tower_invocations_total",
			Help: "Total number of submitted invocations.",
		}, []string{"agent", "tool"}),

		GuardrailDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tower_guardrail_decisions_total",
			Help: "Guardrail evaluations by disposition.",
		}, []string{"disposition"}),

		BudgetAlerts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tower_budget_alerts_total",
			Help: "Budget threshold crossings by tier.",
		}, []string{"tier"}),

		AgentRestarts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tower_agent_restarts_total",
			Help: "Agent process restarts scheduled by the supervisor.",
		}, []string{"agent"}),

		AgentHealth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "tower_agent_health",
			Help: "Agent health (1=ready, 0.5=starting or restarting, 0=degraded).",
		}, []string{"agent"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tower_audit_buffer_utilization",
			Help: "Current number of events in the audit write buffer.",
		}),
	}
}
