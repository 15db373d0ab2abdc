package registry

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func opsTools() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "run_action",
			Description: "Execute an operational action",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":  map[string]any{"type": "string"},
					"dry_run": map[string]any{"type": "boolean"},
				},
				"required": []any{"action"},
			},
		},
		{Name: "status"},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ops", opsTools()))

	tool, err := r.Resolve("ops", "run_action")
	require.NoError(t, err)
	assert.Equal(t, "run_action", tool.Name)

	_, err = r.Resolve("ops", "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Resolve("ghost", "run_action")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegister_ReplacesToolSet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ops", opsTools()))

	// Re-registration after a restart replaces the whole set.
	require.NoError(t, r.Register("ops", []protocol.Tool{{Name: "only_tool"}}))

	_, err := r.Resolve("ops", "run_action")
	assert.ErrorIs(t, err, ErrUnknownTool)
	_, err = r.Resolve("ops", "only_tool")
	assert.NoError(t, err)
}

func TestRegister_Invalid(t *testing.T) {
	r := New()
	assert.Error(t, r.Register("", opsTools()))
	assert.Error(t, r.Register("ops", []protocol.Tool{{Name: ""}}))
	assert.Error(t, r.Register("ops", []protocol.Tool{{Name: "dup"}, {Name: "dup"}}))
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ops", opsTools()))
	r.Unregister("ops")

	_, err := r.Resolve("ops", "run_action")
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Nil(t, r.ToolsFor("ops"))
}

func TestValidateArgs(t *testing.T) {
	tool, err := func() (protocol.Tool, error) {
		r := New()
		if err := r.Register("ops", opsTools()); err != nil {
			return protocol.Tool{}, err
		}
		return r.Resolve("ops", "run_action")
	}()
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", args: map[string]any{"action": "restart api"}},
		{name: "valid with optional", args: map[string]any{"action": "x", "dry_run": true}},
		{name: "missing required", args: map[string]any{"dry_run": true}, wantErr: true},
		{name: "wrong type", args: map[string]any{"action": 42}, wantErr: true},
		{name: "wrong optional type", args: map[string]any{"action": "x", "dry_run": "yes"}, wantErr: true},
		{name: "undeclared extras pass through", args: map[string]any{"action": "x", "extra": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(tool, tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArguments)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateArgs_NoSchema(t *testing.T) {
	assert.NoError(t, ValidateArgs(protocol.Tool{Name: "free"}, map[string]any{"anything": 1}))
}

func TestCapabilities_Sorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("zeta", []protocol.Tool{{Name: "b"}, {Name: "a"}}))
	require.NoError(t, r.Register("alpha", []protocol.Tool{{Name: "c"}}))

	caps := r.Capabilities()
	require.Len(t, caps, 3)
	assert.Equal(t, "alpha", caps[0].Agent)
	assert.Equal(t, "a", caps[1].Tool)
	assert.Equal(t, "b", caps[2].Tool)
}
