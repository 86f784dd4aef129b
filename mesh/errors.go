package mesh

import (
	"errors"
	"fmt"
)

// Guard rejection codes. They surface in tool errors and logs so operators
// can tell a mesh topology problem from a reasoning loop going astray.
const (
	CodeCycleDetected  = "CYCLE_DETECTED"
	CodeDepthExceeded  = "DEPTH_EXCEEDED"
	CodeBudgetExceeded = "BUDGET_EXCEEDED"
)

// GuardError is returned when a guard rejects an invocation before dispatch.
// The rejected call is never executed.
type GuardError struct {
	Code  string `json:"code"`
	Agent string `json:"agent,omitempty"` // target of the rejected call
	Limit int    `json:"limit,omitempty"` // configured threshold that would be violated
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	switch e.Code {
	case CodeCycleDetected:
		return fmt.Sprintf("cycle detected: agent %q is still awaiting a response on the current call path", e.Agent)
	case CodeDepthExceeded:
		return fmt.Sprintf("depth exceeded: calling agent %q would exceed the maximum hop count of %d", e.Agent, e.Limit)
	case CodeBudgetExceeded:
		return fmt.Sprintf("budget exceeded: the exchange reached its maximum of %d tool calls", e.Limit)
	default:
		return fmt.Sprintf("guard rejection [%s] for agent %q", e.Code, e.Agent)
	}
}

// AsGuardError unwraps err into a *GuardError if it is one.
func AsGuardError(err error) (*GuardError, bool) {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
