// Package gateway moves chat requests between agents. A Gateway resolves a
// peer agent's name to a transport endpoint and forwards a request to it;
// implementations exist for HTTP, NATS and in-process dispatch.
package gateway

import (
	"context"
	"fmt"

	"github.com/meshkit-ai/meshkit/core"
)

// Gateway is the transport used by peer-agent tools to reach other agents.
type Gateway interface {
	// Resolve maps a mesh-unique agent name to a transport endpoint.
	Resolve(agent string) (string, error)

	// Forward sends the request to the endpoint and returns the peer's
	// response. Transport errors are returned as-is; the caller classifies
	// them into the tool error taxonomy.
	Forward(ctx context.Context, endpoint string, req *core.ChatRequest) (*core.ChatResponse, error)
}

// Handler processes one chat request on the receiving side of a transport.
// agent.Runtime satisfies it.
type Handler interface {
	Handle(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error)
}

// ErrUnknownAgent is the failure shape for names no registry entry covers.
type ErrUnknownAgent struct {
	Agent string
}

// Error implements the error interface.
func (e *ErrUnknownAgent) Error() string {
	return fmt.Sprintf("no endpoint registered for agent %q", e.Agent)
}
