package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeRequest(&buf, &Request{ID: "req-1", Method: MethodPing})
	require.NoError(t, err)

	// One envelope, one line.
	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, `"method":"ping"`)
}

func TestEncodeRequest_Invalid(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, EncodeRequest(&buf, &Request{Method: MethodPing}))
	assert.Error(t, EncodeRequest(&buf, &Request{ID: "req-1"}))
	assert.Zero(t, buf.Len())
}

func TestReader_Next(t *testing.T) {
	input := `{"id":"a","result":{"ok":true}}

{"id":"b","error":{"code":-32601,"message":"unknown method"}}
`
	r := NewReader(strings.NewReader(input))

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Nil(t, first.Error)

	// The blank line between envelopes is skipped.
	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)
	require.NotNil(t, second.Error)
	assert.Equal(t, -32601, second.Error.Code)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_MalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "garbage\n"},
		{name: "missing id", input: `{"result":{}}` + "\n"},
		{name: "error without message", input: `{"id":"a","error":{"code":1}}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input))
			_, err := r.Next()
			require.Error(t, err)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	raw, err := Marshal(CallToolParams{Name: "run_action", Arguments: map[string]any{"action": "x"}})
	require.NoError(t, err)

	var params CallToolParams
	require.NoError(t, Unmarshal(raw, &params))
	assert.Equal(t, "run_action", params.Name)
	assert.Equal(t, "x", params.Arguments["action"])
}

func TestMarshal_NilParams(t *testing.T) {
	raw, err := Marshal(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestUnmarshal_EmptyPayload(t *testing.T) {
	var v map[string]any
	assert.Error(t, Unmarshal(nil, &v))
}
