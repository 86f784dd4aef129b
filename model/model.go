// Package model defines the provider-neutral reasoning interface an agent
// runtime drives and the request/decision structures shared by all provider
// adapters.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/meshkit-ai/meshkit/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// Request captures one normalized reasoning step input: the instruction, the
// conversation so far and the tools the agent is willing to execute.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Decision is the model's output for one reasoning step. A decision with no
// tool calls is final: Text is the answer. A decision with tool calls asks
// the runtime to execute them and come back with the results.
type Decision struct {
	Text      string          `json:"text,omitempty"`
	ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
}

// IsFinal reports whether the decision requests no further tool execution.
func (d Decision) IsFinal() bool { return len(d.ToolCalls) == 0 }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent runtime needs to reason.
type Model interface {
	// Decide runs one reasoning step over the request.
	Decide(ctx context.Context, req Request) (Decision, error)

	// Info returns information about the model implementation.
	Info() Info
}

// ScriptModel is a deterministic in-memory Model for tests. It replays a
// fixed sequence of decisions, one per Decide call, and records the requests
// it saw.
type ScriptModel struct {
	mu        sync.Mutex
	info      Info
	decisions []Decision
	err       error
	requests  []Request
}

// NewScriptModel constructs a ScriptModel that replays the given decisions in order.
func NewScriptModel(decisions ...Decision) *ScriptModel {
	return &ScriptModel{
		info:      Info{Name: "script", Provider: "test", SupportsTools: true},
		decisions: decisions,
	}
}

// FailWith makes every Decide call after the scripted decisions return err.
func (m *ScriptModel) FailWith(err error) *ScriptModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Decide implements Model by popping the next scripted decision.
func (m *ScriptModel) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.decisions) == 0 {
		if m.err != nil {
			return Decision{}, m.err
		}
		return Decision{}, fmt.Errorf("script exhausted after %d decisions", len(m.requests)-1)
	}

	d := m.decisions[0]
	m.decisions = m.decisions[1:]

	return d, nil
}

// Requests returns the requests seen so far, in order.
func (m *ScriptModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements Model.
func (m *ScriptModel) Info() Info { return m.info }
