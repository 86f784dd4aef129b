package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meshkit-ai/meshkit/core"
)

// LocalGateway dispatches chat requests to handlers registered in the same
// process. Requests and responses are round-tripped through JSON so agents
// behave identically whether they sit in-process or across a network.
type LocalGateway struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalGateway constructs an empty in-process gateway.
func NewLocalGateway() *LocalGateway {
	return &LocalGateway{handlers: map[string]Handler{}}
}

// Register makes the handler reachable under the agent's name.
func (g *LocalGateway) Register(agent string, handler Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[agent] = handler
}

// Resolve implements Gateway. The endpoint of a local agent is its name.
func (g *LocalGateway) Resolve(agent string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.handlers[agent]; !ok {
		return "", &ErrUnknownAgent{Agent: agent}
	}
	return agent, nil
}

// Forward implements Gateway by invoking the registered handler after a JSON
// round trip of the request and response.
func (g *LocalGateway) Forward(ctx context.Context, endpoint string, req *core.ChatRequest) (*core.ChatResponse, error) {
	g.mu.RLock()
	handler, ok := g.handlers[endpoint]
	g.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownAgent{Agent: endpoint}
	}

	wireReq, err := roundTrip[core.ChatRequest](req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	resp, err := handler.Handle(ctx, wireReq)
	if err != nil {
		return nil, err
	}

	wireResp, err := roundTrip[core.ChatResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat response: %w", err)
	}

	return wireResp, nil
}

func roundTrip[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
