// Package approval suspends invocations that a guardrail rule marked
// require_approval until an external confirmation arrives.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrApprovalTimeout is returned when no confirmation arrives within the
// configured window.
var ErrApprovalTimeout = errors.New("approval window expired")

// Request is one suspended invocation awaiting confirmation.
type Request struct {
	InvocationID string         `json:"invocation_id"`
	Agent        string         `json:"agent"`
	Tool         string         `json:"tool"`
	Action       string         `json:"action"`
	Reason       string         `json:"reason"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type pendingEntry struct {
	req Request
	ch  chan bool
}

// Manager tracks pending approvals keyed by invocation correlation id.
// The dispatcher creates an entry and waits; the control-plane API resolves it.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
}

func NewManager() *Manager {
	return &Manager{
		pending: make(map[string]*pendingEntry),
	}
}

// Create registers a pending approval for an invocation.
func (m *Manager) Create(req Request) error {
	if req.InvocationID == "" {
		return fmt.Errorf("invocation id is empty")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[req.InvocationID]; exists {
		return fmt.Errorf("approval already pending for invocation %s", req.InvocationID)
	}
	m.pending[req.InvocationID] = &pendingEntry{
		req: req,
		ch:  make(chan bool, 1),
	}
	return nil
}

// Wait blocks until the approval is resolved or the context expires. A
// deadline expiry maps to ErrApprovalTimeout; a plain cancellation (the
// caller went away) returns the context error instead, so aborted requests
// are not recorded as expired approval windows. The pending entry is removed
// either way.
func (m *Manager) Wait(ctx context.Context, invocationID string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.pending[invocationID]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no pending approval for invocation %s", invocationID)
	}

	select {
	case approved := <-entry.ch:
		m.remove(invocationID)
		return approved, nil
	case <-ctx.Done():
		m.remove(invocationID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, ErrApprovalTimeout
		}
		return false, ctx.Err()
	}
}

// Resolve delivers a confirmation decision for a pending invocation.
func (m *Manager) Resolve(invocationID string, approved bool) error {
	m.mu.Lock()
	entry, ok := m.pending[invocationID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval for invocation %s", invocationID)
	}

	// Non-blocking send: the channel is buffered, and a second Resolve for
	// the same id is a no-op rather than a deadlock.
	select {
	case entry.ch <- approved:
	default:
	}
	return nil
}

// Pending returns a snapshot of suspended invocations, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, 0, len(m.pending))
	for _, entry := range m.pending {
		out = append(out, entry.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) remove(invocationID string) {
	m.mu.Lock()
	delete(m.pending, invocationID)
	m.mu.Unlock()
}
