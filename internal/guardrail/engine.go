// Package guardrail evaluates tool invocations against an ordered policy
// rule set before dispatch.
package guardrail

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/jcarver/tower/internal/config"
	"github.com/jcarver/tower/internal/log"
)

// Disposition is the engine's verdict on a requested action.
type Disposition string

const (
	Allow           Disposition = "allow"
	Block           Disposition = "block"
	RequireApproval Disposition = "require_approval"
)

// Rule is one compiled policy rule. Rules are immutable once loaded.
type Rule struct {
	ID          string
	Index       int
	Pattern     *regexp.Regexp
	Disposition Disposition
	Reason      string
}

// Decision is the result of evaluating one action description.
type Decision struct {
	Disposition Disposition
	// RuleID is the matching rule's id, or "none" when no rule matched.
	RuleID string
	Reason string
}

// Engine holds the active rule list. Evaluation is lock-free on the hot path
// apart from a read lock; Reload atomically swaps the whole list.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	logger *slog.Logger
}

// NewEngine compiles the configured rules in declaration order. A rule that
// fails to compile is fatal: a badly formed rule must never be silently
// skipped.
func NewEngine(rules []config.RuleConfig) (*Engine, error) {
	compiled, err := Compile(rules)
	if err != nil {
		return nil, err
	}
	return &Engine{
		rules:  compiled,
		logger: log.WithComponent("guardrail"),
	}, nil
}

// Compile turns rule configs into compiled rules, preserving order.
func Compile(rules []config.RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, rc := range rules {
		re, err := regexp.Compile("(?i)" + rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d: compile pattern %q: %w", i, rc.Pattern, err)
		}

		var disp Disposition
		switch strings.ToLower(rc.Disposition) {
		case "allow":
			disp = Allow
		case "block":
			disp = Block
		case "require_approval":
			disp = RequireApproval
		default:
			return nil, fmt.Errorf("policy rule %d: unknown disposition %q", i, rc.Disposition)
		}

		reason := rc.Reason
		if reason == "" {
			reason = fmt.Sprintf("matched policy pattern %q", rc.Pattern)
		}

		out = append(out, Rule{
			ID:          fmt.Sprintf("rule-%03d", i),
			Index:       i,
			Pattern:     re,
			Disposition: disp,
			Reason:      reason,
		})
	}
	return out, nil
}

// Evaluate checks the action description against the rule list in declaration
// order. The first matching rule wins; if no rule matches the default
// disposition is Allow. Every evaluation is logged with the matching rule id
// (or "none") for auditability.
func (e *Engine) Evaluate(action string) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if r.Pattern.MatchString(action) {
			e.logger.Info("policy evaluated",
				"rule_id", r.ID, "disposition", string(r.Disposition))
			return Decision{
				Disposition: r.Disposition,
				RuleID:      r.ID,
				Reason:      r.Reason,
			}
		}
	}

	e.logger.Info("policy evaluated", "rule_id", "none", "disposition", string(Allow))
	return Decision{
		Disposition: Allow,
		RuleID:      "none",
		Reason:      "no policy rule matched",
	}
}

// Reload atomically swaps the active rule list. The new rules are fully
// compiled before the swap, so a bad reload leaves the old list in place.
func (e *Engine) Reload(rules []config.RuleConfig) error {
	compiled, err := Compile(rules)
	if err != nil {
		return fmt.Errorf("policy reload rejected: %w", err)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	e.logger.Info("policy rules reloaded", "count", len(compiled))
	return nil
}

// RuleCount returns the size of the active rule list.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
