// Package registry holds the read-only capability projection of every
// supervised agent. Lookups never block on agent lifecycle; the supervisor
// swaps whole snapshots on (re)registration.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
)

// ErrUnknownTool is returned when no registered agent advertises the tool.
var ErrUnknownTool = errors.New("tool not registered")

// ErrInvalidArguments is returned when call arguments do not satisfy the
// tool's declared input schema.
var ErrInvalidArguments = errors.New("arguments do not match tool schema")

// Capability is one advertised tool together with its owning agent.
type Capability struct {
	Agent       string         `json:"agent"`
	Tool        string         `json:"tool"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Registry maps (agent, tool) to the declared schema. Writes replace an
// agent's entire tool set atomically, so a reader never observes a half
// re-registered agent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]map[string]protocol.Tool
}

func New() *Registry {
	return &Registry{
		byName: make(map[string]map[string]protocol.Tool),
	}
}

// Register replaces the capability set for an agent with the tools it
// declared during handshake. Called by the supervisor on every successful
// initialize, including after restarts.
func (r *Registry) Register(agent string, tools []protocol.Tool) error {
	if agent == "" {
		return fmt.Errorf("agent name is empty")
	}

	set := make(map[string]protocol.Tool, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("agent %s declared a tool with no name", agent)
		}
		if _, dup := set[t.Name]; dup {
			return fmt.Errorf("agent %s declared tool %q twice", agent, t.Name)
		}
		set[t.Name] = t
	}

	r.mu.Lock()
	r.byName[agent] = set
	r.mu.Unlock()

	log.WithAgent(agent).Info("capabilities registered", "tools", len(set))
	return nil
}

// Unregister drops all capabilities for an agent. Used when an agent goes
// permanently degraded; routing to it must fail fast rather than queue.
func (r *Registry) Unregister(agent string) {
	r.mu.Lock()
	delete(r.byName, agent)
	r.mu.Unlock()
}

// Resolve returns the declared tool for (agent, tool) or ErrUnknownTool.
func (r *Registry) Resolve(agent, tool string) (protocol.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byName[agent]
	if !ok {
		return protocol.Tool{}, fmt.Errorf("%w: agent %q", ErrUnknownTool, agent)
	}
	t, ok := set[tool]
	if !ok {
		return protocol.Tool{}, fmt.Errorf("%w: %q on agent %q", ErrUnknownTool, tool, agent)
	}
	return t, nil
}

// ValidateArgs checks call arguments against the tool's input schema. The
// schema format is a compact JSON-schema subset: top-level "required" names
// and per-property "type" strings under "properties".
func ValidateArgs(tool protocol.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema == nil {
		return nil
	}

	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, raw := range required {
			name, _ := raw.(string)
			if name == "" {
				continue
			}
			if _, present := args[name]; !present {
				return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, name)
			}
		}
	}

	for name, val := range args {
		spec, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := spec["type"].(string)
		if want == "" {
			continue
		}
		if !matchesType(val, want) {
			return fmt.Errorf("%w: argument %q is not %s", ErrInvalidArguments, name, want)
		}
	}
	return nil
}

func matchesType(val any, want string) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

// Capabilities returns a stable snapshot of every registered tool, sorted by
// agent then tool name.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Capability
	for agent, set := range r.byName {
		for _, t := range set {
			out = append(out, Capability{
				Agent:       agent,
				Tool:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Agent != out[j].Agent {
			return out[i].Agent < out[j].Agent
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// ToolsFor returns the tool names an agent currently advertises.
func (r *Registry) ToolsFor(agent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byName[agent]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
