// Package observe converts dispatch steps into structured log, trace, and
// metric events. It is a pure sink: emit failures are logged locally and
// never propagate back to the caller.
package observe

import (
	"log/slog"
	"time"

	"github.com/jcarver/tower/internal/log"
)

// Emitter fans each control-plane event out to the event hub, prometheus
// metrics, the audit writer, and the structured log.
type Emitter struct {
	hub     *Hub
	metrics *Metrics
	audit   *AuditWriter
	logger  *slog.Logger
}

// NewEmitter wires an emitter. Any of hub, metrics, audit may be nil; missing
// sinks are skipped.
func NewEmitter(hub *Hub, metrics *Metrics, audit *AuditWriter) *Emitter {
	return &Emitter{
		hub:     hub,
		metrics: metrics,
		audit:   audit,
		logger:  log.WithComponent("observe"),
	}
}

func (e *Emitter) publish(eventType string, data any) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(eventType, data)
}

// InvocationSubmitted records a new invocation entering the dispatcher.
func (e *Emitter) InvocationSubmitted(invocationID, agent, tool string) {
	if e.metrics != nil {
		e.metrics.InvocationsTotal.WithLabelValues(agent, tool).Inc()
	}
	e.publish(EventInvocationSubmitted, map[string]any{
		"invocation_id": invocationID,
		"agent":         agent,
		"tool":          tool,
	})
}

// GuardrailEvaluated records a policy decision, matched or not.
func (e *Emitter) GuardrailEvaluated(invocationID, agent, tool, action, disposition, ruleID, reason string) {
	if e.metrics != nil {
		e.metrics.GuardrailDecisions.WithLabelValues(disposition).Inc()
	}
	e.publish(EventGuardrailEvaluated, map[string]any{
		"invocation_id": invocationID,
		"disposition":   disposition,
		"rule_id":       ruleID,
	})
	if e.audit != nil {
		e.audit.Write(AuditEvent{
			InvocationID: invocationID,
			Agent:        agent,
			Tool:         tool,
			Action:       action,
			RuleID:       ruleID,
			Status:       "guardrail_" + disposition,
			Detail:       reason,
		})
	}
	e.logger.Info("guardrail evaluated",
		"invocation_id", invocationID, "disposition", disposition, "rule_id", ruleID)
}

// ApprovalPending records an invocation suspended awaiting confirmation.
func (e *Emitter) ApprovalPending(invocationID, agent, tool, action string) {
	e.publish(EventApprovalPending, map[string]any{
		"invocation_id": invocationID,
		"agent":         agent,
		"tool":          tool,
		"action":        action,
	})
}

// ApprovalResolved records the confirmation outcome for a suspended invocation.
func (e *Emitter) ApprovalResolved(invocationID string, approved bool) {
	e.publish(EventApprovalResolved, map[string]any{
		"invocation_id": invocationID,
		"approved":      approved,
	})
}

// InvocationFinished records a terminal invocation outcome and closes its
// root span.
func (e *Emitter) InvocationFinished(span *Span, invocationID, agent, tool, status, detail string) {
	span.End(statusOutcome(status))

	if e.metrics != nil {
		e.metrics.InvocationDuration.WithLabelValues(agent, tool, status).
			Observe(span.Duration().Seconds())
	}
	e.publish(EventInvocationFinished, map[string]any{
		"invocation_id": invocationID,
		"agent":         agent,
		"tool":          tool,
		"status":        status,
		"duration_ms":   span.Duration().Milliseconds(),
	})
	e.SpanClosed(span)
	if e.audit != nil {
		e.audit.Write(AuditEvent{
			InvocationID: invocationID,
			Agent:        agent,
			Tool:         tool,
			Status:       status,
			Detail:       detail,
			DurationMs:   span.Duration().Milliseconds(),
		})
	}
	e.logger.Info("invocation finished",
		"invocation_id", invocationID, "agent", agent, "tool", tool,
		"status", status, "duration_ms", span.Duration().Milliseconds())
}

// SpanClosed publishes a closed span to the hub.
func (e *Emitter) SpanClosed(span *Span) {
	e.publish(EventSpanClosed, span)
}

// AgentHealthChanged records a supervisor health transition.
func (e *Emitter) AgentHealthChanged(agent, health string, numeric float64) {
	if e.metrics != nil {
		e.metrics.AgentHealth.WithLabelValues(agent).Set(numeric)
	}
	e.publish(EventAgentHealth, map[string]any{
		"agent":  agent,
		"health": health,
	})
}

// AgentRestartScheduled records a crash-restart attempt.
func (e *Emitter) AgentRestartScheduled(agent string, attempt int, delay time.Duration) {
	if e.metrics != nil {
		e.metrics.AgentRestarts.WithLabelValues(agent).Inc()
	}
	e.publish(EventAgentRestart, map[string]any{
		"agent":    agent,
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	})
}

// BudgetAlert records a threshold-tier crossing. The ledger guarantees at
// most one alert per tier per reset cycle.
func (e *Emitter) BudgetAlert(tier string, total, limit float64) {
	if e.metrics != nil {
		e.metrics.BudgetAlerts.WithLabelValues(tier).Inc()
	}
	e.publish(EventBudgetAlert, map[string]any{
		"tier":  tier,
		"total": total,
		"limit": limit,
	})
	e.logger.Warn("budget threshold crossed", "tier", tier, "total", total, "limit", limit)
}

// UsageRecorded publishes a ledger append.
func (e *Emitter) UsageRecorded(invocationID, model string, tokens int64, cost float64) {
	e.publish(EventUsageRecorded, map[string]any{
		"invocation_id": invocationID,
		"model":         model,
		"tokens":        tokens,
		"cost":          cost,
	})
}

func statusOutcome(status string) string {
	switch status {
	case "completed":
		return OutcomeOK
	case "blocked":
		return OutcomeBlocked
	case "denied":
		return OutcomeDenied
	case "timed_out", "approval_timeout":
		return OutcomeTimeout
	case "rejected":
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
