package protocol

import "encoding/json"

// Method names every agent must implement.
const (
	MethodInitialize = "initialize"
	MethodCallTool   = "tools/call"
	MethodPing       = "ping"
)

// Request is the envelope sent to an agent process on stdin.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope received from an agent process on stdout.
// Exactly one of Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject carries a structured error payload from an agent.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InitializeParams is sent with the initialize handshake.
type InitializeParams struct {
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
}

// InitializeResult is the agent's declared capability set.
type InitializeResult struct {
	Name      string     `json:"name"`
	Version   string     `json:"version,omitempty"`
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources,omitempty"`
}

// Tool declares a callable tool and its parameter schema.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Resource declares a readable resource by URI template.
type Resource struct {
	URI         string `json:"uri"`
	Description string `json:"description,omitempty"`
}

// CallToolParams is the payload for a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the payload of a successful tools/call response.
type CallToolResult struct {
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Usage is optional token accounting reported by the agent per call.
type Usage struct {
	Model  string `json:"model"`
	Tokens int64  `json:"tokens"`
}
