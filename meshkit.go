// Package meshkit provides a high-level facade for building a mesh of
// cooperating agents in one process. Most applications interact with this
// package by:
//  1. Creating a Mesh via New() with the required guard thresholds
//  2. Registering one or more agents (each with its model and tools)
//  3. Asking any agent a question via Ask()
//
// Agents registered on the same Mesh reach each other through an in-process
// gateway; Peers() builds the proxy tools that expose them to one another.
// Distributed deployments use the server and gateway packages directly and
// run one agent per process.
package meshkit

import (
	"context"
	"fmt"

	"github.com/meshkit-ai/meshkit/agent"
	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/gateway"
	"github.com/meshkit-ai/meshkit/logging"
	"github.com/meshkit-ai/meshkit/mesh"
	"github.com/meshkit-ai/meshkit/model"
	"github.com/meshkit-ai/meshkit/session"
	"github.com/meshkit-ai/meshkit/tool"
)

// Options configure a Mesh.
type Options struct {
	// Store receives an audit row for every finished exchange leg.
	// Defaults to the in-memory store.
	Store session.Store

	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Mesh aggregates co-located agents behind one in-process gateway.
type Mesh struct {
	guards mesh.Guards
	gw     *gateway.LocalGateway
	agents map[string]*agent.Runtime
	opts   Options
}

// New creates a Mesh. The guard thresholds apply to every exchange started
// through it and are required.
func New(guards mesh.Guards, optFns ...func(o *Options)) (*Mesh, error) {
	if err := guards.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guards: %w", err)
	}

	opts := Options{
		Store:  session.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Mesh{
		guards: guards,
		gw:     gateway.NewLocalGateway(),
		agents: map[string]*agent.Runtime{},
		opts:   opts,
	}, nil
}

// RegisterAgent creates an agent runtime and wires it into the mesh.
func (m *Mesh) RegisterAgent(name, description string, mdl model.Model, optFns ...func(o *agent.Options)) (*agent.Runtime, error) {
	if _, exists := m.agents[name]; exists {
		return nil, fmt.Errorf("agent %q is already registered", name)
	}

	fns := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Store = m.opts.Store
		o.Logger = m.opts.Logger
	}}, optFns...)

	rt, err := agent.New(name, description, mdl, m.guards, fns...)
	if err != nil {
		return nil, err
	}

	m.agents[name] = rt
	m.gw.Register(name, rt)

	return rt, nil
}

// Peers builds proxy tools for the named agents so another agent can invoke
// them. The targets do not need to be registered yet; resolution happens at
// call time.
func (m *Mesh) Peers(names ...string) []tool.Tool {
	tools := make([]tool.Tool, 0, len(names))
	for _, name := range names {
		description := name
		if rt, ok := m.agents[name]; ok {
			description = rt.Description()
		}
		tools = append(tools, tool.NewPeerAgentTool(name, description, m.gw))
	}
	return tools
}

// Gateway returns the in-process gateway, for mixing local and remote peers.
func (m *Mesh) Gateway() *gateway.LocalGateway { return m.gw }

// Ask sends a fresh user prompt to the named agent and returns its response.
func (m *Mesh) Ask(ctx context.Context, agentName, prompt string) (*core.ChatResponse, error) {
	rt, ok := m.agents[agentName]
	if !ok {
		return nil, fmt.Errorf("agent %q is not registered", agentName)
	}

	return rt.Handle(ctx, &core.ChatRequest{
		Messages: []core.Message{core.UserMessage(prompt)},
	})
}
