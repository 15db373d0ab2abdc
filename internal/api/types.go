package api

import "encoding/json"

// InvocationRequest is the POST /v1/invocations body.
type InvocationRequest struct {
	Agent     string         `json:"agent"`
	Tool      string         `json:"tool"`
	Action    string         `json:"action,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// InvocationResponse is the terminal record returned for an invocation.
type InvocationResponse struct {
	InvocationID string          `json:"invocation_id"`
	Status       string          `json:"status"`
	Content      json.RawMessage `json:"content,omitempty"`
	RuleID       string          `json:"rule_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	Error        string          `json:"error,omitempty"`
}

// ApprovalDecision is the POST /v1/approvals/{invocationID} body.
type ApprovalDecision struct {
	Approved bool `json:"approved"`
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	AgentsReady   int    `json:"agents_ready"`
	AgentsTotal   int    `json:"agents_total"`
	RulesLoaded   int    `json:"rules_loaded"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
