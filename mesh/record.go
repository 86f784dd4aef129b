package mesh

import (
	"encoding/json"
	"time"
)

// Status classifies the outcome of a single tool or peer invocation.
type Status string

const (
	// StatusSuccess marks an invocation that returned a usable result.
	StatusSuccess Status = "success"
	// StatusError marks an invocation that failed (tool error, guard rejection, transport failure).
	StatusError Status = "error"
	// StatusTimeout marks an invocation that did not respond within its bound.
	StatusTimeout Status = "timeout"
)

// Record is one append-only audit entry for a single leaf or peer invocation.
// Records are never mutated after creation.
type Record struct {
	ToolName      string          `json:"tool_name"`
	AgentName     string          `json:"agent_name,omitempty"` // set for peer-agent invocations
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Status        Status          `json:"status"`
	ResultSummary string          `json:"result_summary,omitempty"`
}

// IsPeer reports whether the record captures a peer-agent invocation.
func (r Record) IsPeer() bool { return r.AgentName != "" }
