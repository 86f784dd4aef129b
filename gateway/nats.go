package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/logging"
)

// NATSGateway forwards chat requests over NATS request-reply. Each agent
// listens on its own subject; Resolve maps an agent name to that subject
// using a shared prefix, so no registry is needed.
type NATSGateway struct {
	conn    *nats.Conn
	subject string
	logger  logging.Logger
}

// NATSOptions configure a NATSGateway.
type NATSOptions struct {
	// SubjectPrefix is prepended to agent names to form request subjects.
	SubjectPrefix string
	Logger        logging.Logger
}

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "mesh.agent"

// NewNATSGateway constructs a gateway over an established NATS connection.
func NewNATSGateway(conn *nats.Conn, optFns ...func(o *NATSOptions)) *NATSGateway {
	opts := NATSOptions{SubjectPrefix: DefaultSubjectPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &NATSGateway{
		conn:    conn,
		subject: opts.SubjectPrefix,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Resolve implements Gateway by deriving the request subject from the name.
func (g *NATSGateway) Resolve(agent string) (string, error) {
	if agent == "" {
		return "", &ErrUnknownAgent{Agent: agent}
	}
	return g.subject + "." + agent, nil
}

// Forward implements Gateway using NATS request-reply. The deadline comes
// from the caller's context.
func (g *NATSGateway) Forward(ctx context.Context, endpoint string, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	g.logger.Debug("gateway.nats.forward", "subject", endpoint)

	msg, err := g.conn.RequestWithContext(ctx, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("nats request to %s failed: %w", endpoint, err)
	}

	var resp core.ChatResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response from %s: %w", endpoint, err)
	}

	return &resp, nil
}

// NATSResponder serves one agent on its request subject. It is the receiving
// half of the NATS transport.
type NATSResponder struct {
	conn    *nats.Conn
	subject string
	handler Handler
	logger  logging.Logger
	sub     *nats.Subscription
}

// NewNATSResponder constructs a responder for the named agent.
func NewNATSResponder(conn *nats.Conn, agent string, handler Handler, optFns ...func(o *NATSOptions)) *NATSResponder {
	opts := NATSOptions{SubjectPrefix: DefaultSubjectPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &NATSResponder{
		conn:    conn,
		subject: opts.SubjectPrefix + "." + agent,
		handler: handler,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Start subscribes to the agent's subject. Each request is handled on its
// own goroutine; the provided context bounds request handling.
func (r *NATSResponder) Start(ctx context.Context) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		go r.serve(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}

	r.sub = sub
	r.logger.Info("gateway.nats.listening", "subject", r.subject)

	return nil
}

// Stop unsubscribes from the agent's subject.
func (r *NATSResponder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

func (r *NATSResponder) serve(ctx context.Context, msg *nats.Msg) {
	var req core.ChatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.logger.Warn("gateway.nats.bad_request", "subject", r.subject, "error", err.Error())
		r.reply(msg, &core.ChatResponse{
			Status:      core.StatusAborted,
			FailureNote: "malformed request: " + err.Error(),
		})
		return
	}

	resp, err := r.handler.Handle(ctx, &req)
	if err != nil {
		r.logger.Error("gateway.nats.handle_failed", "subject", r.subject, "error", err.Error())
		resp = &core.ChatResponse{
			Status:      core.StatusAborted,
			FailureNote: err.Error(),
		}
	}

	r.reply(msg, resp)
}

func (r *NATSResponder) reply(msg *nats.Msg, resp *core.ChatResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("gateway.nats.marshal_failed", "subject", r.subject, "error", err.Error())
		return
	}
	if err := msg.Respond(body); err != nil {
		r.logger.Error("gateway.nats.respond_failed", "subject", r.subject, "error", err.Error())
	}
}
