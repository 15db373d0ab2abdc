package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/protocol"
)

// SupervisorCaller executes tool calls over the supervisor's live channels,
// applying each agent's configured per-call timeout.
type SupervisorCaller struct {
	sup *agent.Supervisor
}

func NewSupervisorCaller(sup *agent.Supervisor) *SupervisorCaller {
	return &SupervisorCaller{sup: sup}
}

// CallTool sends tools/call to the named agent. A timeout abandons only this
// invocation's reply slot; the agent process is left running for other
// in-flight calls.
func (c *SupervisorCaller) CallTool(ctx context.Context, agentName string, params protocol.CallToolParams) (*protocol.CallToolResult, error) {
	ch, err := c.sup.AcquireChannel(agentName)
	if err != nil {
		return nil, err
	}
	timeout, err := c.sup.CallTimeout(agentName)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := ch.Call(cctx, protocol.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("agent %s: %s (code %d)", agentName, resp.Error.Message, resp.Error.Code)
	}

	var result protocol.CallToolResult
	if err := protocol.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentName, err)
	}
	return &result, nil
}

// CallTimeout satisfies Timeouts.
func (c *SupervisorCaller) CallTimeout(agentName string) (time.Duration, error) {
	return c.sup.CallTimeout(agentName)
}
