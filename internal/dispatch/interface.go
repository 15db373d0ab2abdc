package dispatch

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/jcarver/tower/internal/dispatch Caller,Resolver,PolicyEvaluator,Approvals,BudgetLedger,Timeouts

import (
	"context"
	"time"

	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/guardrail"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/protocol"
)

// Caller executes one tool call against a running agent with the agent's
// per-call timeout applied. Implemented by the supervisor adapter in
// production and mocked in tests.
type Caller interface {
	CallTool(ctx context.Context, agent string, params protocol.CallToolParams) (*protocol.CallToolResult, error)
}

// Resolver looks up declared capabilities.
type Resolver interface {
	Resolve(agent, tool string) (protocol.Tool, error)
}

// PolicyEvaluator renders a verdict on an action description.
type PolicyEvaluator interface {
	Evaluate(action string) guardrail.Decision
}

// Approvals suspends and resumes invocations awaiting confirmation.
type Approvals interface {
	Create(req approval.Request) error
	Wait(ctx context.Context, invocationID string) (bool, error)
}

// BudgetLedger is the cost gate and usage sink.
type BudgetLedger interface {
	Exhausted() bool
	RecordUsage(ctx context.Context, invocationID, model string, tokens int64) (ledger.UsageRecord, error)
}

// Timeouts exposes per-agent timing knobs.
type Timeouts interface {
	CallTimeout(agent string) (time.Duration, error)
}
