package observe

import (
	"time"

	"github.com/google/uuid"
)

// Span outcome tags.
const (
	OutcomeOK       = "ok"
	OutcomeBlocked  = "blocked"
	OutcomeDenied   = "denied"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Span is one timed step of an invocation. A root span covers the whole
// invocation; child spans cover sub-steps (guardrail check, agent call,
// ledger update).
type Span struct {
	SpanID    string    `json:"span_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Component string    `json:"component"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Outcome   string    `json:"outcome,omitempty"`
}

// NewRootSpan starts a root span for a component.
func NewRootSpan(component string) *Span {
	return &Span{
		SpanID:    uuid.New().String(),
		Component: component,
		StartedAt: time.Now().UTC(),
	}
}

// Child starts a child span under s.
func (s *Span) Child(component string) *Span {
	return &Span{
		SpanID:    uuid.New().String(),
		ParentID:  s.SpanID,
		Component: component,
		StartedAt: time.Now().UTC(),
	}
}

// End closes the span with an outcome tag. Ending an already-ended span is a
// no-op so terminal paths can't double-close.
func (s *Span) End(outcome string) {
	if !s.EndedAt.IsZero() {
		return
	}
	s.EndedAt = time.Now().UTC()
	s.Outcome = outcome
}

// Duration returns the span's elapsed time, or time since start if still open.
func (s *Span) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
