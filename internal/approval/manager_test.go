package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResolveWait(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1", Agent: "ops", Tool: "run_action"}))

	done := make(chan bool, 1)
	go func() {
		approved, err := m.Wait(context.Background(), "inv-1")
		assert.NoError(t, err)
		done <- approved
	}()

	// Give the waiter a moment to park.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Resolve("inv-1", true))

	select {
	case approved := <-done:
		assert.True(t, approved)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}

	// Resolved entries are gone.
	assert.Empty(t, m.Pending())
}

func TestWait_ResolveBeforeWait(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1"}))
	require.NoError(t, m.Resolve("inv-1", false))

	// The buffered channel holds the decision until someone waits.
	approved, err := m.Wait(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestWait_Timeout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := m.Wait(ctx, "inv-1")
	require.ErrorIs(t, err, ErrApprovalTimeout)

	// The entry is released; a late Resolve reports not found.
	assert.Error(t, m.Resolve("inv-1", true))
	assert.Empty(t, m.Pending())
}

func TestWait_CallerCancelledIsNotTimeout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1"}))

	// The caller going away is a cancellation, not an expired window.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Wait(ctx, "inv-1")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrApprovalTimeout)

	// The entry is still released.
	assert.Empty(t, m.Pending())
}

func TestCreate_DuplicateRejected(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1"}))
	assert.Error(t, m.Create(Request{InvocationID: "inv-1"}))
	assert.Error(t, m.Create(Request{}))
}

func TestResolve_UnknownInvocation(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Resolve("nope", true))
}

func TestResolve_DoubleResolveIsNoop(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(Request{InvocationID: "inv-1"}))
	require.NoError(t, m.Resolve("inv-1", true))
	// Second decision neither blocks nor overwrites.
	require.NoError(t, m.Resolve("inv-1", false))

	approved, err := m.Wait(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestPending_OldestFirst(t *testing.T) {
	m := NewManager()
	base := time.Now().UTC()
	require.NoError(t, m.Create(Request{InvocationID: "inv-b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, m.Create(Request{InvocationID: "inv-a", CreatedAt: base}))
	require.NoError(t, m.Create(Request{InvocationID: "inv-c", CreatedAt: base.Add(2 * time.Second)}))

	pending := m.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "inv-a", pending[0].InvocationID)
	assert.Equal(t, "inv-b", pending[1].InvocationID)
	assert.Equal(t, "inv-c", pending[2].InvocationID)
}
