// Package agent implements the reasoning runtime that drives one agent
// through an exchange: it resumes or creates the shared mesh state, loops
// the model over tool results and produces the final wire response.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/logging"
	"github.com/meshkit-ai/meshkit/mesh"
	"github.com/meshkit-ai/meshkit/model"
	"github.com/meshkit-ai/meshkit/session"
	"github.com/meshkit-ai/meshkit/tool"
)

// Phase labels the stage an exchange leg is in. Transitions are logged so a
// stuck leg can be located from the logs alone.
type Phase string

const (
	PhaseReceived   Phase = "received"
	PhaseReasoning  Phase = "reasoning"
	PhaseInvoking   Phase = "invoking"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseAborted    Phase = "aborted"
)

// Options configure a Runtime.
type Options struct {
	// Instruction is the agent's standing instruction.
	Instruction Instruction
	// Tools are the capabilities exposed to the model, leaf tools and peer
	// proxies alike.
	Tools []tool.Tool
	// MaxParallelTools caps concurrent tool execution within one step.
	// Zero means no explicit limit.
	MaxParallelTools int
	// MaxErrorStreak aborts the leg after this many consecutive steps in
	// which every action failed (model errors included).
	MaxErrorStreak int
	// Store, when set, receives an audit row for every finished leg.
	Store session.Store
	// Logger receives structured runtime events.
	Logger logging.Logger
}

// Runtime drives one agent. It is safe for concurrent use; each Handle call
// operates on its own exchange state.
type Runtime struct {
	info        core.AgentInfo
	instruction Instruction
	mdl         model.Model
	guards      mesh.Guards
	registry    map[string]tool.Tool
	order       []string
	maxParallel int
	maxStreak   int
	store       session.Store
	logger      logging.Logger
}

// New constructs a Runtime. The guard thresholds are required; construction
// fails when any is missing so the limits are always an explicit decision.
func New(name, description string, mdl model.Model, guards mesh.Guards, optFns ...func(o *Options)) (*Runtime, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name must not be empty")
	}
	if mdl == nil {
		return nil, fmt.Errorf("agent %q needs a model", name)
	}
	if err := guards.Validate(); err != nil {
		return nil, fmt.Errorf("agent %q has invalid guards: %w", name, err)
	}

	opts := Options{MaxErrorStreak: 3}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := make(map[string]tool.Tool, len(opts.Tools))
	order := make([]string, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		if _, dup := registry[t.Name()]; dup {
			return nil, fmt.Errorf("agent %q registers tool %q twice", name, t.Name())
		}
		registry[t.Name()] = t
		order = append(order, t.Name())
	}

	return &Runtime{
		info:        core.AgentInfo{Name: name, Description: description},
		instruction: opts.Instruction,
		mdl:         mdl,
		guards:      guards,
		registry:    registry,
		order:       order,
		maxParallel: opts.MaxParallelTools,
		maxStreak:   opts.MaxErrorStreak,
		store:       opts.Store,
		logger:      logging.OrNoOp(opts.Logger),
	}, nil
}

// Name returns the agent's mesh-unique name.
func (r *Runtime) Name() string { return r.info.Name }

// Description returns the agent's self-description.
func (r *Runtime) Description() string { return r.info.Description }

// Handle processes one chat request end to end. It implements
// gateway.Handler so the same runtime serves HTTP, NATS and in-process
// transports.
func (r *Runtime) Handle(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	state, err := r.resumeState(req)
	if err != nil {
		return nil, err
	}

	pushed := state.Begin(r.info.Name)
	if pushed {
		defer state.End(r.info.Name)
	}

	r.logger.Info("agent.exchange.received",
		"agent", r.info.Name,
		"exchange_id", state.ExchangeID(),
		"depth", state.Depth(),
		"phase", string(PhaseReceived),
	)

	resp := r.run(ctx, state, req)

	r.audit(ctx, state, resp)

	return resp, nil
}

func (r *Runtime) resumeState(req *core.ChatRequest) (*mesh.State, error) {
	if req.MeshState == "" {
		return mesh.NewState(r.guards), nil
	}

	tok, err := mesh.DecodeToken(req.MeshState)
	if err != nil {
		return nil, fmt.Errorf("agent %q received an invalid mesh state token: %w", r.info.Name, err)
	}

	return mesh.Resume(r.guards, tok), nil
}

// run executes the reasoning loop. Every return path produces a response;
// failures abort the leg rather than surfacing as transport errors, so the
// caller still receives the histories accumulated up to the failure.
func (r *Runtime) run(ctx context.Context, state *mesh.State, req *core.ChatRequest) *core.ChatResponse {
	instructions, err := r.instruction.Resolve(req)
	if err != nil {
		return r.abort(state, fmt.Sprintf("failed to resolve instruction: %v", err))
	}

	messages := make([]core.Message, len(req.Messages))
	copy(messages, req.Messages)

	defs := r.toolDefinitions()
	errorStreak := 0

	for step := 1; step <= state.Guards().MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return r.abort(state, "exchange cancelled: "+err.Error())
		}

		r.logger.Debug("agent.step",
			"agent", r.info.Name,
			"exchange_id", state.ExchangeID(),
			"step", step,
			"phase", string(PhaseReasoning),
		)

		decision, err := r.mdl.Decide(ctx, model.Request{
			Instructions: instructions,
			Messages:     messages,
			Tools:        defs,
		})
		if err != nil {
			errorStreak++
			r.logger.Warn("agent.model.error",
				"agent", r.info.Name,
				"exchange_id", state.ExchangeID(),
				"streak", errorStreak,
				"error", err.Error(),
			)
			if errorStreak >= r.maxStreak {
				return r.abort(state, fmt.Sprintf("no progress: model failed %d times in a row: %v", errorStreak, err))
			}
			continue
		}

		if decision.IsFinal() {
			r.logger.Info("agent.exchange.done",
				"agent", r.info.Name,
				"exchange_id", state.ExchangeID(),
				"steps", step,
				"total_calls", state.TotalCalls(),
				"phase", string(PhaseDone),
			)
			return &core.ChatResponse{
				Answer:     decision.Text,
				Status:     core.StatusCompleted,
				History:    state.History(),
				TotalCalls: state.TotalCalls(),
			}
		}

		messages = append(messages, core.AssistantMessage(decision.Text, decision.ToolCalls...))

		results := r.invokeTools(ctx, state, req, decision.ToolCalls)

		anySucceeded := false
		for _, res := range results {
			messages = append(messages, core.ToolMessage(res.callID, res.content))
			if res.err == nil {
				anySucceeded = true
			}
		}

		if anySucceeded {
			errorStreak = 0
		} else {
			errorStreak++
			if errorStreak >= r.maxStreak {
				return r.abort(state, fmt.Sprintf("no progress: %d consecutive steps without a successful action", errorStreak))
			}
		}
	}

	return r.abort(state, fmt.Sprintf("no progress: reasoning did not converge within %d steps", state.Guards().MaxSteps))
}

func (r *Runtime) abort(state *mesh.State, note string) *core.ChatResponse {
	r.logger.Warn("agent.exchange.aborted",
		"agent", r.info.Name,
		"exchange_id", state.ExchangeID(),
		"note", note,
		"phase", string(PhaseAborted),
	)
	return &core.ChatResponse{
		Status:      core.StatusAborted,
		FailureNote: note,
		History:     state.History(),
		TotalCalls:  state.TotalCalls(),
	}
}

func (r *Runtime) toolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.registry[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

type toolResult struct {
	callID  string
	content string
	err     error
}

// invokeTools runs one step's tool calls, possibly in parallel, and returns
// the results in the order the model requested them. Panics inside a tool
// are recovered and surfaced as execution errors.
func (r *Runtime) invokeTools(ctx context.Context, state *mesh.State, req *core.ChatRequest, calls []core.ToolCall) []toolResult {
	n := len(calls)
	results := make([]toolResult, n)

	if n == 1 {
		results[0] = r.invokeOne(ctx, state, req, calls[0])
		return results
	}

	maxPar := r.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	for i := range calls {
		if ctx.Err() != nil {
			results[i] = toolResult{
				callID:  calls[i].ID,
				content: formatToolError(tool.NewToolError(calls[i].Name, "exchange cancelled", tool.CodeExecutionError)),
				err:     ctx.Err(),
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, tc core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.invokeOne(ctx, state, req, tc)
		}(i, calls[i])
	}

	wg.Wait()

	return results
}

func (r *Runtime) invokeOne(ctx context.Context, state *mesh.State, req *core.ChatRequest, tc core.ToolCall) toolResult {
	startedAt := time.Now().UTC()

	result, err := func() (result any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("agent.tool.panic",
					"agent", r.info.Name,
					"tool", tc.Name,
					"recover", fmt.Sprintf("%v", rec),
					"stack", string(debug.Stack()),
				)
				err = tool.NewToolError(tc.Name, fmt.Sprintf("tool panicked: %v", rec), tool.CodeExecutionError)
			}
		}()
		return r.executeTool(ctx, state, req, tc)
	}()

	// Peer proxies keep their own records; everything else is recorded here.
	if _, isPeer := r.registry[tc.Name].(*tool.PeerAgentTool); !isPeer {
		r.recordLeaf(state, tc, startedAt, result, err)
	}

	if err != nil {
		return toolResult{callID: tc.ID, content: formatToolError(err), err: err}
	}

	return toolResult{callID: tc.ID, content: formatToolResult(result)}
}

func (r *Runtime) executeTool(ctx context.Context, state *mesh.State, req *core.ChatRequest, tc core.ToolCall) (any, error) {
	impl, ok := r.registry[tc.Name]
	if !ok {
		return nil, tool.NewToolError(tc.Name, fmt.Sprintf("tool %q is not registered", tc.Name), tool.CodeInvalidArguments)
	}

	var args map[string]any
	if len(tc.Arguments) == 0 {
		args = map[string]any{}
	} else if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return nil, tool.NewToolError(tc.Name, fmt.Sprintf("arguments are not a JSON object: %v", err), tool.CodeInvalidArguments)
	}

	// Leaf calls draw from the exchange budget before they run. Peer proxies
	// apply all three guards themselves inside EnterPeer.
	if _, isPeer := impl.(*tool.PeerAgentTool); !isPeer {
		if err := state.CountCall(); err != nil {
			ge, _ := mesh.AsGuardError(err)
			return nil, tool.NewToolError(tc.Name, ge.Error(), ge.Code)
		}
	}

	toolCtx := core.NewToolContext(ctx, state, r.info, tc.ID, req, r.logger)
	if err := toolCtx.Validate(); err != nil {
		return nil, tool.NewToolError(tc.Name, err.Error(), tool.CodeExecutionError)
	}

	return impl.Call(toolCtx, args)
}

func (r *Runtime) recordLeaf(state *mesh.State, tc core.ToolCall, startedAt time.Time, result any, err error) {
	rec := mesh.Record{
		ToolName:   tc.Name,
		Arguments:  tc.Arguments,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Status:     mesh.StatusSuccess,
	}

	if err != nil {
		rec.Status = mesh.StatusError
		if te, ok := tool.AsToolError(err); ok {
			rec.ResultSummary = te.Message
			if te.Code == tool.CodeTimeout {
				rec.Status = mesh.StatusTimeout
			}
		} else {
			rec.ResultSummary = err.Error()
		}
	} else {
		rec.ResultSummary = summarizeResult(result)
	}

	state.Append(r.info.Name, rec)
}

func (r *Runtime) audit(ctx context.Context, state *mesh.State, resp *core.ChatResponse) {
	if r.store == nil {
		return
	}

	err := r.store.Save(ctx, session.Exchange{
		ExchangeID: state.ExchangeID(),
		Agent:      r.info.Name,
		Status:     string(resp.Status),
		Answer:     resp.Answer,
		Note:       resp.FailureNote,
		TotalCalls: resp.TotalCalls,
		History:    resp.History,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Error("agent.audit.save_failed",
			"agent", r.info.Name,
			"exchange_id", state.ExchangeID(),
			"error", err.Error(),
		)
	}
}

// formatToolResult renders a successful tool result as the content of the
// tool message fed back to the model.
func formatToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return `{"status":"ok"}`
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// formatToolError renders a failed invocation so the model can react to it.
// The leg continues; only step exhaustion, an error streak or cancellation
// aborts it.
func formatToolError(err error) string {
	te, ok := tool.AsToolError(err)
	if !ok {
		te = &tool.ToolError{Message: err.Error(), Code: tool.CodeExecutionError}
	}

	raw, merr := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    te.Code,
			"message": te.Message,
		},
	})
	if merr != nil {
		return fmt.Sprintf(`{"error":{"code":%q,"message":"tool failed"}}`, te.Code)
	}
	return string(raw)
}

func summarizeResult(result any) string {
	const max = 240
	s := formatToolResult(result)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
