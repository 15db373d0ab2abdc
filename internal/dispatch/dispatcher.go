// Package dispatch is the router at the center of the control plane. Every
// invocation flows through the same pipeline: capability lookup, argument
// validation, guardrail verdict, optional approval hold, budget gate, agent
// call, usage accounting. Each invocation reaches exactly one terminal state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/guardrail"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/observe"
	"github.com/jcarver/tower/internal/protocol"
)

// Terminal invocation statuses.
const (
	StatusCompleted       = "completed"
	StatusRejected        = "rejected"
	StatusBlocked         = "blocked"
	StatusDenied          = "denied"
	StatusApprovalTimeout = "approval_timeout"
	StatusTimedOut        = "timed_out"
	StatusFailed          = "failed"
)

// ErrPolicyBlocked is returned when a guardrail rule blocks the action.
var ErrPolicyBlocked = errors.New("action blocked by policy")

// ErrApprovalDenied is returned when a human explicitly rejects the action.
var ErrApprovalDenied = errors.New("action denied by approver")

// ErrDispatchTimeout is returned when the agent call exceeds its per-call
// timeout. The agent process keeps running; only the invocation is released.
var ErrDispatchTimeout = errors.New("agent call timed out")

// ErrAgentError is returned when the agent answered with an error object.
var ErrAgentError = errors.New("agent returned an error")

// ErrBudgetExhausted is returned when hard_limit is on and the budget is spent.
var ErrBudgetExhausted = errors.New("budget exhausted")

// Request is one tool invocation submitted to the control plane.
type Request struct {
	Agent     string         `json:"agent"`
	Tool      string         `json:"tool"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is the terminal record of an invocation.
type Result struct {
	InvocationID string          `json:"invocation_id"`
	Status       string          `json:"status"`
	Content      json.RawMessage `json:"content,omitempty"`
	RuleID       string          `json:"rule_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Usage        *protocol.Usage `json:"usage,omitempty"`
	Duration     time.Duration   `json:"-"`
}

// Dispatcher wires the pipeline stages together.
type Dispatcher struct {
	resolver  Resolver
	validate  func(protocol.Tool, map[string]any) error
	policy    PolicyEvaluator
	approvals Approvals
	budget    BudgetLedger
	caller    Caller
	emitter   *observe.Emitter
	logger    *slog.Logger

	approvalTimeout time.Duration
}

// Options carries the pipeline collaborators.
type Options struct {
	Resolver        Resolver
	ValidateArgs    func(protocol.Tool, map[string]any) error
	Policy          PolicyEvaluator
	Approvals       Approvals
	Budget          BudgetLedger
	Caller          Caller
	Emitter         *observe.Emitter
	ApprovalTimeout time.Duration
}

// New builds a dispatcher. All collaborators are required except the emitter.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("dispatcher needs a resolver")
	case opts.Policy == nil:
		return nil, errors.New("dispatcher needs a policy evaluator")
	case opts.Approvals == nil:
		return nil, errors.New("dispatcher needs an approval manager")
	case opts.Budget == nil:
		return nil, errors.New("dispatcher needs a budget ledger")
	case opts.Caller == nil:
		return nil, errors.New("dispatcher needs an agent caller")
	}
	if opts.ValidateArgs == nil {
		opts.ValidateArgs = func(protocol.Tool, map[string]any) error { return nil }
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		resolver:        opts.Resolver,
		validate:        opts.ValidateArgs,
		policy:          opts.Policy,
		approvals:       opts.Approvals,
		budget:          opts.Budget,
		caller:          opts.Caller,
		emitter:         opts.Emitter,
		logger:          log.WithComponent("dispatch"),
		approvalTimeout: opts.ApprovalTimeout,
	}, nil
}

// Submit runs one invocation through the full pipeline and blocks until it
// reaches a terminal state. The returned Result always carries the terminal
// status; the error (if any) classifies why the invocation did not complete.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Result, error) {
	invocationID := uuid.New().String()
	span := observe.NewRootSpan("dispatch")
	logger := d.logger.With("invocation_id", invocationID, "agent", req.Agent, "tool", req.Tool)

	action := req.Action
	if action == "" {
		action = req.Tool
	}

	res := Result{InvocationID: invocationID}
	finish := func(status, detail string) {
		res.Status = status
		res.Duration = span.Duration()
		if d.emitter != nil {
			d.emitter.InvocationFinished(span, invocationID, req.Agent, req.Tool, status, detail)
		} else {
			span.End(status)
		}
	}

	if d.emitter != nil {
		d.emitter.InvocationSubmitted(invocationID, req.Agent, req.Tool)
	}
	logger.Info("invocation submitted", "action", action)

	// Capability lookup and argument validation.
	tool, err := d.resolver.Resolve(req.Agent, req.Tool)
	if err != nil {
		finish(StatusRejected, err.Error())
		return res, err
	}
	if err := d.validate(tool, req.Arguments); err != nil {
		finish(StatusRejected, err.Error())
		return res, err
	}

	// Guardrail verdict. First matching rule decides; no match allows.
	decision := d.policy.Evaluate(action)
	res.RuleID = decision.RuleID
	res.Reason = decision.Reason
	if d.emitter != nil {
		d.emitter.GuardrailEvaluated(invocationID, req.Agent, req.Tool, action,
			string(decision.Disposition), decision.RuleID, decision.Reason)
	}

	switch decision.Disposition {
	case guardrail.Block:
		finish(StatusBlocked, decision.Reason)
		return res, fmt.Errorf("%w: %s (%s)", ErrPolicyBlocked, decision.Reason, decision.RuleID)

	case guardrail.RequireApproval:
		approved, err := d.holdForApproval(ctx, invocationID, req, action, decision.Reason)
		if err != nil {
			if errors.Is(err, approval.ErrApprovalTimeout) {
				finish(StatusApprovalTimeout, "no confirmation within window")
			} else {
				finish(StatusFailed, err.Error())
			}
			return res, err
		}
		if !approved {
			finish(StatusDenied, "approver rejected the action")
			return res, ErrApprovalDenied
		}
	}

	// Budget gate. Only enforced with hard_limit on; otherwise the ledger
	// alerts and the call proceeds.
	if d.budget.Exhausted() {
		finish(StatusRejected, "budget exhausted")
		return res, ErrBudgetExhausted
	}

	// Agent call.
	callSpan := span.Child("agent")
	result, err := d.caller.CallTool(ctx, req.Agent, protocol.CallToolParams{
		Name:      req.Tool,
		Arguments: req.Arguments,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			callSpan.End(observe.OutcomeTimeout)
			finish(StatusTimedOut, err.Error())
			return res, fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
		case errors.Is(err, agent.ErrAgentUnavailable), errors.Is(err, agent.ErrUnknownAgent),
			errors.Is(err, agent.ErrChannelClosed):
			callSpan.End(observe.OutcomeError)
			finish(StatusFailed, err.Error())
			return res, err
		default:
			callSpan.End(observe.OutcomeError)
			finish(StatusFailed, err.Error())
			return res, fmt.Errorf("%w: %v", ErrAgentError, err)
		}
	}
	callSpan.End(observe.OutcomeOK)
	if d.emitter != nil {
		d.emitter.SpanClosed(callSpan)
	}

	res.Content = result.Content
	res.Usage = result.Usage

	// Usage accounting. A recording failure never retracts a completed call;
	// it is logged and surfaced through the audit trail instead.
	if result.Usage != nil {
		rec, err := d.budget.RecordUsage(ctx, invocationID, result.Usage.Model, result.Usage.Tokens)
		switch {
		case errors.Is(err, ledger.ErrUnknownModel):
			logger.Warn("usage reported for unknown model", "model", result.Usage.Model)
		case err != nil:
			logger.Error("usage recording failed", "error", err)
		default:
			if d.emitter != nil {
				d.emitter.UsageRecorded(invocationID, rec.Model, rec.Tokens, rec.Cost)
			}
		}
	}

	finish(StatusCompleted, "")
	return res, nil
}

// holdForApproval parks the invocation until a confirmation arrives or the
// approval window expires.
func (d *Dispatcher) holdForApproval(ctx context.Context, invocationID string, req Request, action, reason string) (bool, error) {
	err := d.approvals.Create(approval.Request{
		InvocationID: invocationID,
		Agent:        req.Agent,
		Tool:         req.Tool,
		Action:       action,
		Reason:       reason,
		Arguments:    req.Arguments,
	})
	if err != nil {
		return false, fmt.Errorf("create approval: %w", err)
	}
	if d.emitter != nil {
		d.emitter.ApprovalPending(invocationID, req.Agent, req.Tool, action)
	}

	wctx, cancel := context.WithTimeout(ctx, d.approvalTimeout)
	defer cancel()

	approved, err := d.approvals.Wait(wctx, invocationID)
	if err != nil {
		return false, err
	}
	if d.emitter != nil {
		d.emitter.ApprovalResolved(invocationID, approved)
	}
	return approved, nil
}
