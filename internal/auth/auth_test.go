package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "missing header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			token, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "watch-token", Scopes: []string{"events:ro", "budget:ro"}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "anything:rw"))

	p, ok = Authenticate("watch-token", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "events:ro"))
	assert.False(t, HasAnyScope(p, "invoke:rw"))

	_, ok = Authenticate("bogus", "admin-key", tokens)
	assert.False(t, ok)

	// An empty configured key never matches, even against an empty token.
	_, ok = Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestNormalizeScopes_WriteImpliesRead(t *testing.T) {
	p, ok := Authenticate("t", "", []TokenConfig{
		{Token: "t", Scopes: []string{"budget:rw", "approvals:rw", "policy:rw"}},
	})
	require.True(t, ok)

	assert.True(t, HasAnyScope(p, "budget:ro"))
	assert.True(t, HasAnyScope(p, "approvals:ro"))
	assert.True(t, HasAnyScope(p, "policy:ro"))
	assert.False(t, HasAnyScope(p, "agents:ro"))
}

func TestPrincipalContext(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)

	_, ok := PrincipalFromContext(r.Context())
	assert.False(t, ok)

	want := Principal{Token: "t", Scopes: map[string]struct{}{"*": {}}}
	ctx := WithPrincipal(r.Context(), want)
	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
