// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema validated arguments and a
// uniform error taxonomy. Peer agents are exposed through the same interface
// as ordinary leaf tools, so a model never needs to know whether a name maps
// to a local function or to another agent across the mesh.
package tool

import (
	"errors"
	"fmt"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/internal/util"
)

// Tool defines the interface for extending agent capabilities.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with validated arguments and the invocation context.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Error codes surfaced by tool failures. Guard codes mirror the mesh package
// so a model sees the same vocabulary whether a guard fired locally or on a
// remote hop.
const (
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeTransportFailure = "TRANSPORT_FAILURE"
	CodeCycleDetected    = "CYCLE_DETECTED"
	CodeDepthExceeded    = "DEPTH_EXCEEDED"
	CodeBudgetExceeded   = "BUDGET_EXCEEDED"
)

// ArgumentError aliases the validation error emitted by the schema checker.
type ArgumentError = util.ArgumentError

// ToolError represents a failed tool invocation. The failure is reported to
// the model as a tool result so reasoning can continue; it never terminates
// the exchange by itself.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// AsToolError unwraps err into a *ToolError if it is one.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
