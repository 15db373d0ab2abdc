// Package e2e drives the full invocation pipeline over real components: a
// supervised script agent, the capability registry, the guardrail engine,
// the approval gate, and a sqlite-backed cost ledger.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/config"
	"github.com/jcarver/tower/internal/dispatch"
	"github.com/jcarver/tower/internal/guardrail"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/registry"
	"github.com/jcarver/tower/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// opsAgentScript is a real subprocess speaking the stdio protocol, shaped
// like agents/ops/run.sh. Every tools/call reports gpt-4 usage.
const opsAgentScript = `#!/bin/bash
while IFS= read -r line; do
  [ -z "$line" ] && continue
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *'"method":"initialize"'*)
      printf '{"id":"%s","result":{"name":"ops","version":"1.0","tools":[{"name":"run_action","description":"Execute an operational action","input_schema":{"type":"object","properties":{"action":{"type":"string"}},"required":["action"]}}]}}\n' "$id"
      ;;
    *'"method":"ping"'*)
      printf '{"id":"%s","result":{}}\n' "$id"
      ;;
    *'"method":"tools/call"'*)
      printf '{"id":"%s","result":{"content":{"ok":true},"usage":{"model":"gpt-4","tokens":500}}}\n' "$id"
      ;;
    *)
      printf '{"id":"%s","error":{"code":-32601,"message":"unknown method"}}\n' "$id"
      ;;
  esac
done
`

type controlPlane struct {
	dispatcher *dispatch.Dispatcher
	supervisor *agent.Supervisor
	approvals  *approval.Manager
	budget     *ledger.Ledger
	alerts     *[]string
}

// startControlPlane wires the real stack over a script agent and blocks
// until the agent's handshake completes.
func startControlPlane(t *testing.T, limit float64) *controlPlane {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "ops.sh")
	require.NoError(t, os.WriteFile(script, []byte(opsAgentScript), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "tower.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	alerts := &[]string{}
	budget, err := ledger.New(ctx, ledger.NewStore(db), limit,
		map[string]float64{"gpt-4": 0.03, "gpt-4o-mini": 0.00015}, false,
		func(tier string, total, limit float64) { *alerts = append(*alerts, tier) })
	require.NoError(t, err)

	policy, err := guardrail.NewEngine([]config.RuleConfig{
		{Pattern: `delete.*(prod|database)`, Disposition: "block", Reason: "schema-destructive action"},
		{Pattern: `restart.*production`, Disposition: "require_approval", Reason: "production restart"},
	})
	require.NoError(t, err)

	reg := registry.New()
	sup := agent.NewSupervisor(ctx, reg, nil)
	require.NoError(t, sup.Register(config.AgentConfig{
		Name:    "ops",
		Command: script,
		Timeouts: config.TimeoutsConfig{
			Handshake:      5 * time.Second,
			Call:           5 * time.Second,
			HealthInterval: time.Hour,
		},
		Restart: config.RestartConfig{
			MaxAttempts: 3,
			BackoffBase: 10 * time.Millisecond,
			BackoffCap:  40 * time.Millisecond,
		},
	}))
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		sup.Shutdown(sctx)
	})

	approvals := approval.NewManager()
	disp, err := dispatch.New(dispatch.Options{
		Resolver:        reg,
		ValidateArgs:    registry.ValidateArgs,
		Policy:          policy,
		Approvals:       approvals,
		Budget:          budget,
		Caller:          dispatch.NewSupervisorCaller(sup),
		ApprovalTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := sup.AcquireChannel("ops"); err == nil {
			return &controlPlane{
				dispatcher: disp,
				supervisor: sup,
				approvals:  approvals,
				budget:     budget,
				alerts:     alerts,
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("ops agent never became ready")
	return nil
}

func submit(cp *controlPlane, action string) (dispatch.Result, error) {
	return cp.dispatcher.Submit(context.Background(), dispatch.Request{
		Agent:     "ops",
		Tool:      "run_action",
		Action:    action,
		Arguments: map[string]any{"action": action},
	})
}

func TestPipeline_BlockedActionNeverReachesAgent(t *testing.T) {
	cp := startControlPlane(t, 100)

	res, err := submit(cp, "delete the production database")
	require.ErrorIs(t, err, dispatch.ErrPolicyBlocked)
	assert.Equal(t, dispatch.StatusBlocked, res.Status)
	assert.Equal(t, "rule-000", res.RuleID)
	assert.Equal(t, "schema-destructive action", res.Reason)

	// Nothing was spent.
	assert.Zero(t, cp.budget.CheckBudget().Total)
}

func TestPipeline_AllowedActionCompletes(t *testing.T) {
	cp := startControlPlane(t, 100)

	res, err := submit(cp, "check disk space on app-01")
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCompleted, res.Status)
	assert.Equal(t, "none", res.RuleID)
	assert.JSONEq(t, `{"ok":true}`, string(res.Content))

	// The reported usage (gpt-4, 500 tokens at 0.03/1k) landed in the ledger.
	state := cp.budget.CheckBudget()
	assert.InDelta(t, 0.015, state.Total, 1e-9)

	byModel, err := cp.budget.UsageByModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), byModel["gpt-4"].Tokens)
}

func TestPipeline_ApprovalHold(t *testing.T) {
	cp := startControlPlane(t, 100)

	type outcome struct {
		res dispatch.Result
		err error
	}
	outcomes := make(chan outcome, 1)
	go func() {
		res, err := submit(cp, "restart the production api")
		outcomes <- outcome{res, err}
	}()

	// The invocation parks until a decision arrives.
	var pending []approval.Request
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pending = cp.approvals.Pending(); len(pending) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Len(t, pending, 1)
	assert.Equal(t, "restart the production api", pending[0].Action)
	assert.Equal(t, "production restart", pending[0].Reason)

	require.NoError(t, cp.approvals.Resolve(pending[0].InvocationID, true))

	select {
	case o := <-outcomes:
		require.NoError(t, o.err)
		assert.Equal(t, dispatch.StatusCompleted, o.res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("approved invocation never completed")
	}
}

func TestPipeline_DeniedApproval(t *testing.T) {
	cp := startControlPlane(t, 100)

	type outcome struct {
		res dispatch.Result
		err error
	}
	outcomes := make(chan outcome, 1)
	go func() {
		res, err := submit(cp, "restart the production scheduler")
		outcomes <- outcome{res, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pending := cp.approvals.Pending(); len(pending) > 0 {
			require.NoError(t, cp.approvals.Resolve(pending[0].InvocationID, false))
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case o := <-outcomes:
		require.ErrorIs(t, o.err, dispatch.ErrApprovalDenied)
		assert.Equal(t, dispatch.StatusDenied, o.res.Status)
		// The denied call never reached the agent.
		assert.Zero(t, cp.budget.CheckBudget().Total)
	case <-time.After(5 * time.Second):
		t.Fatal("denied invocation never resolved")
	}
}

func TestPipeline_BudgetWarningAlert(t *testing.T) {
	// One call costs 0.015; against a 0.018 limit that is 83%, crossing the
	// 80% warning threshold exactly once.
	cp := startControlPlane(t, 0.018)

	_, err := submit(cp, "summarize the incident timeline")
	require.NoError(t, err)

	assert.Equal(t, []string{"warning"}, *cp.alerts)

	state := cp.budget.CheckBudget()
	assert.Equal(t, "warning", state.Tier)
	assert.InDelta(t, 0.015, state.Total, 1e-9)
}
