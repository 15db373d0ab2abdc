package observe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpan_Lifecycle(t *testing.T) {
	root := NewRootSpan("dispatch")
	assert.NotEmpty(t, root.SpanID)
	assert.Empty(t, root.ParentID)
	assert.True(t, root.EndedAt.IsZero())

	child := root.Child("agent")
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)

	child.End(OutcomeOK)
	root.End(OutcomeOK)
	assert.False(t, root.EndedAt.IsZero())
	assert.Equal(t, OutcomeOK, root.Outcome)
}

func TestSpan_EndIdempotent(t *testing.T) {
	s := NewRootSpan("dispatch")
	s.End(OutcomeBlocked)
	ended := s.EndedAt

	// A second End on a terminal path must not overwrite the outcome.
	s.End(OutcomeOK)
	assert.Equal(t, OutcomeBlocked, s.Outcome)
	assert.Equal(t, ended, s.EndedAt)
}

func TestSpan_Duration(t *testing.T) {
	s := NewRootSpan("dispatch")
	time.Sleep(10 * time.Millisecond)

	open := s.Duration()
	require.Greater(t, open, time.Duration(0))

	s.End(OutcomeOK)
	closed := s.Duration()
	assert.GreaterOrEqual(t, closed, 10*time.Millisecond)

	// A closed span's duration is frozen.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, closed, s.Duration())
}
