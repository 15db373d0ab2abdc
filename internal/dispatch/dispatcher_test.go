package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/dispatch/mocks"
	"github.com/jcarver/tower/internal/guardrail"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
	"github.com/jcarver/tower/internal/registry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type pipelineMocks struct {
	resolver  *mocks.MockResolver
	policy    *mocks.MockPolicyEvaluator
	approvals *mocks.MockApprovals
	budget    *mocks.MockBudgetLedger
	caller    *mocks.MockCaller
}

func newPipeline(t *testing.T, opts ...func(*Options)) (*Dispatcher, pipelineMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)

	pm := pipelineMocks{
		resolver:  mocks.NewMockResolver(ctrl),
		policy:    mocks.NewMockPolicyEvaluator(ctrl),
		approvals: mocks.NewMockApprovals(ctrl),
		budget:    mocks.NewMockBudgetLedger(ctrl),
		caller:    mocks.NewMockCaller(ctrl),
	}
	o := Options{
		Resolver:  pm.resolver,
		Policy:    pm.policy,
		Approvals: pm.approvals,
		Budget:    pm.budget,
		Caller:    pm.caller,
	}
	for _, f := range opts {
		f(&o)
	}
	d, err := New(o)
	require.NoError(t, err)
	return d, pm
}

func allow() guardrail.Decision {
	return guardrail.Decision{Disposition: guardrail.Allow, RuleID: "none", Reason: "no rule matched"}
}

func TestSubmit_Completed(t *testing.T) {
	d, pm := newPipeline(t)

	req := Request{Agent: "ops", Tool: "run_action", Action: "restart the api",
		Arguments: map[string]any{"action": "restart the api"}}

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate("restart the api").Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().
		CallTool(gomock.Any(), "ops", protocol.CallToolParams{Name: "run_action", Arguments: req.Arguments}).
		Return(&protocol.CallToolResult{
			Content: json.RawMessage(`{"ok":true}`),
			Usage:   &protocol.Usage{Model: "gpt-4", Tokens: 500},
		}, nil)
	pm.budget.EXPECT().
		RecordUsage(gomock.Any(), gomock.Any(), "gpt-4", int64(500)).
		Return(ledger.UsageRecord{Model: "gpt-4", Tokens: 500, Cost: 0.015}, nil)

	res, err := d.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotEmpty(t, res.InvocationID)
	assert.JSONEq(t, `{"ok":true}`, string(res.Content))
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(500), res.Usage.Tokens)
}

func TestSubmit_ActionDefaultsToToolName(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "status").Return(protocol.Tool{Name: "status"}, nil)
	pm.policy.EXPECT().Evaluate("status").Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(&protocol.CallToolResult{Content: json.RawMessage(`{}`)}, nil)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "status"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestSubmit_UnknownToolRejected(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "nope").
		Return(protocol.Tool{}, registry.ErrUnknownTool)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "nope"})
	require.ErrorIs(t, err, registry.ErrUnknownTool)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestSubmit_InvalidArgumentsRejected(t *testing.T) {
	d, pm := newPipeline(t, func(o *Options) {
		o.ValidateArgs = func(protocol.Tool, map[string]any) error {
			return registry.ErrInvalidArguments
		}
	})

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.ErrorIs(t, err, registry.ErrInvalidArguments)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestSubmit_PolicyBlocked(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate("delete the production database").Return(guardrail.Decision{
		Disposition: guardrail.Block,
		RuleID:      "rule-000",
		Reason:      "destructive action on production data",
	})

	res, err := d.Submit(context.Background(), Request{
		Agent: "ops", Tool: "run_action", Action: "delete the production database",
	})
	require.ErrorIs(t, err, ErrPolicyBlocked)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, "rule-000", res.RuleID)
	assert.Equal(t, "destructive action on production data", res.Reason)
}

func TestSubmit_ApprovalApproved(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate("restart production").Return(guardrail.Decision{
		Disposition: guardrail.RequireApproval, RuleID: "rule-003", Reason: "needs a human",
	})
	pm.approvals.EXPECT().Create(gomock.Any()).
		DoAndReturn(func(req approval.Request) error {
			assert.Equal(t, "ops", req.Agent)
			assert.Equal(t, "restart production", req.Action)
			assert.NotEmpty(t, req.InvocationID)
			return nil
		})
	pm.approvals.EXPECT().Wait(gomock.Any(), gomock.Any()).Return(true, nil)
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(&protocol.CallToolResult{Content: json.RawMessage(`{}`)}, nil)

	res, err := d.Submit(context.Background(), Request{
		Agent: "ops", Tool: "run_action", Action: "restart production",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestSubmit_ApprovalDenied(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate("restart production").Return(guardrail.Decision{
		Disposition: guardrail.RequireApproval, RuleID: "rule-003", Reason: "needs a human",
	})
	pm.approvals.EXPECT().Create(gomock.Any()).Return(nil)
	pm.approvals.EXPECT().Wait(gomock.Any(), gomock.Any()).Return(false, nil)

	res, err := d.Submit(context.Background(), Request{
		Agent: "ops", Tool: "run_action", Action: "restart production",
	})
	require.ErrorIs(t, err, ErrApprovalDenied)
	assert.Equal(t, StatusDenied, res.Status)
}

func TestSubmit_ApprovalTimeout(t *testing.T) {
	d, pm := newPipeline(t, func(o *Options) {
		o.ApprovalTimeout = 20 * time.Millisecond
	})

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate("restart production").Return(guardrail.Decision{
		Disposition: guardrail.RequireApproval, RuleID: "rule-003", Reason: "needs a human",
	})
	pm.approvals.EXPECT().Create(gomock.Any()).Return(nil)
	pm.approvals.EXPECT().Wait(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) (bool, error) {
			<-ctx.Done()
			return false, approval.ErrApprovalTimeout
		})

	res, err := d.Submit(context.Background(), Request{
		Agent: "ops", Tool: "run_action", Action: "restart production",
	})
	require.ErrorIs(t, err, approval.ErrApprovalTimeout)
	assert.Equal(t, StatusApprovalTimeout, res.Status)
}

func TestSubmit_BudgetExhausted(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate(gomock.Any()).Return(allow())
	pm.budget.EXPECT().Exhausted().Return(true)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestSubmit_CallTimeout(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate(gomock.Any()).Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(nil, context.DeadlineExceeded)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.ErrorIs(t, err, ErrDispatchTimeout)
	assert.Equal(t, StatusTimedOut, res.Status)
}

func TestSubmit_AgentUnavailablePassthrough(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate(gomock.Any()).Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(nil, agent.ErrAgentUnavailable)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.ErrorIs(t, err, agent.ErrAgentUnavailable)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestSubmit_AgentErrorWrapped(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate(gomock.Any()).Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(nil, errors.New("tool crashed"))

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.ErrorIs(t, err, ErrAgentError)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestSubmit_UnknownModelUsageDoesNotFail(t *testing.T) {
	d, pm := newPipeline(t)

	pm.resolver.EXPECT().Resolve("ops", "run_action").Return(protocol.Tool{Name: "run_action"}, nil)
	pm.policy.EXPECT().Evaluate(gomock.Any()).Return(allow())
	pm.budget.EXPECT().Exhausted().Return(false)
	pm.caller.EXPECT().CallTool(gomock.Any(), "ops", gomock.Any()).
		Return(&protocol.CallToolResult{
			Content: json.RawMessage(`{}`),
			Usage:   &protocol.Usage{Model: "claude-nonexistent", Tokens: 10},
		}, nil)
	pm.budget.EXPECT().
		RecordUsage(gomock.Any(), gomock.Any(), "claude-nonexistent", int64(10)).
		Return(ledger.UsageRecord{}, ledger.ErrUnknownModel)

	res, err := d.Submit(context.Background(), Request{Agent: "ops", Tool: "run_action"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
