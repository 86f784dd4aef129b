package core

import (
	"context"
	"fmt"

	"github.com/meshkit-ai/meshkit/logging"
	"github.com/meshkit-ai/meshkit/mesh"
)

// AgentInfo identifies the agent on whose behalf a tool runs.
type AgentInfo struct {
	// Name is the mesh-unique agent name used on the call stack.
	Name string
	// Description is shown to peers when this agent is exposed as a tool.
	Description string
}

// ToolContext provides the constrained surface a tool implementation sees
// during one invocation: the ambient context, the shared exchange state, the
// calling agent's identity and the original request.
type ToolContext struct {
	ctx        context.Context
	state      *mesh.State
	agentInfo  AgentInfo
	toolCallID string
	request    *ChatRequest
	logger     logging.Logger
	valid      bool
}

// NewToolContext constructs a tool context bound to one tool call.
func NewToolContext(ctx context.Context, state *mesh.State, agentInfo AgentInfo, toolCallID string, request *ChatRequest, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:        ctx,
		state:      state,
		agentInfo:  agentInfo,
		toolCallID: toolCallID,
		request:    request,
		logger:     logging.OrNoOp(logger),
		valid:      true,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// State returns the shared exchange state.
func (tc *ToolContext) State() *mesh.State { return tc.state }

// ExchangeID returns the exchange identifier the invocation belongs to.
func (tc *ToolContext) ExchangeID() string { return tc.state.ExchangeID() }

// ToolCallID returns the model-assigned identifier of this tool call.
func (tc *ToolContext) ToolCallID() string { return tc.toolCallID }

// AgentName returns the name of the agent invoking the tool.
func (tc *ToolContext) AgentName() string { return tc.agentInfo.Name }

// Request returns the originating chat request. Peer-agent tools read it to
// forward the caller's auth token.
func (tc *ToolContext) Request() *ChatRequest { return tc.request }

// AuthToken returns the bearer token of the originating request, if any.
func (tc *ToolContext) AuthToken() string {
	if tc.request == nil {
		return ""
	}
	return tc.request.AuthToken
}

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if !tc.valid || tc.state == nil || tc.toolCallID == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
