package tool

import (
	"fmt"
	"time"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It validates arguments against a JSON-schema-like parameter schema
// before execution and normalizes failures so callers always receive a
// *ToolError with a consistent code:
//
//	INVALID_ARGUMENTS -> schema / argument mismatch
//	EXECUTION_ERROR   -> the wrapped function returned a plain error
//	(custom codes are preserved when the function returns *ToolError itself)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct's
// json and description tags.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.SchemaFor(structType), fn)
}

// Name returns the unique tool name used in tool declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the wrapped
// function, wrapping failures as *ToolError.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "tool_call_id", toolCtx.ToolCallID())

	if err := util.ValidateArguments(args, t.parameters); err != nil {
		logger.Warn("tool.call.invalid_arguments", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("argument validation failed: %v", err),
			Code:    CodeInvalidArguments,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		if toolErr, ok := AsToolError(err); ok {
			logger.Error("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)
			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecutionError,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
