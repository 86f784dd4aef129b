package core

import "github.com/meshkit-ai/meshkit/mesh"

// ExchangeStatus classifies how an exchange ended.
type ExchangeStatus string

const (
	// StatusCompleted marks an exchange that produced a final answer.
	StatusCompleted ExchangeStatus = "completed"
	// StatusAborted marks an exchange terminated by a guard, timeout or
	// repeated failure before a final answer was produced.
	StatusAborted ExchangeStatus = "aborted"
)

// ChatRequest is the wire request one agent sends another. For a fresh
// user-facing exchange MeshState is empty; for a peer invocation it carries
// the caller's encoded continuation token.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MeshState string    `json:"mesh_state,omitempty"`
	AuthToken string    `json:"auth_token,omitempty"`
}

// ChatResponse is the wire response. Alongside the answer it reports the
// callee's per-agent tool call histories and the exchange-wide call total as
// seen at return time, so the caller can fold the subtree back into its own
// state.
type ChatResponse struct {
	Answer      string                   `json:"answer"`
	Status      ExchangeStatus           `json:"status"`
	FailureNote string                   `json:"failure_note,omitempty"`
	History     map[string][]mesh.Record `json:"tool_call_history,omitempty"`
	TotalCalls  int                      `json:"total_calls"`
}
