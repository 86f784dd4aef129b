package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/gateway"
	"github.com/meshkit-ai/meshkit/internal/util"
	"github.com/meshkit-ai/meshkit/mesh"
)

type peerArgs struct {
	Prompt           string `json:"prompt" description:"Task or question for the peer agent, phrased as a self-contained request"`
	PropagateHistory *bool  `json:"propagate_history,omitempty" description:"Include a summary of tool activity so far as context for the peer"`
}

// PeerAgentTool exposes another agent in the mesh as an ordinary tool. The
// model invokes it like any leaf function; underneath, the tool enforces the
// exchange guards, threads the shared state through the transport and folds
// the peer's reported activity back into the caller's state.
//
// Guard checks happen before dispatch: a rejected call never crosses the
// transport. The target is popped from the call stack on every exit path.
type PeerAgentTool struct {
	target      string
	description string
	parameters  map[string]any
	gw          gateway.Gateway
	timeout     time.Duration
}

// PeerOptions configure a PeerAgentTool.
type PeerOptions struct {
	// Timeout bounds one peer invocation end to end, including every hop
	// the peer makes below itself. Defaults to 120s.
	Timeout time.Duration
}

// NewPeerAgentTool constructs a proxy for the named peer agent.
func NewPeerAgentTool(target, description string, gw gateway.Gateway, optFns ...func(o *PeerOptions)) *PeerAgentTool {
	opts := PeerOptions{Timeout: 120 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &PeerAgentTool{
		target:      target,
		description: description,
		parameters:  util.SchemaFor(peerArgs{}),
		gw:          gw,
		timeout:     opts.Timeout,
	}
}

// Name returns the tool name derived from the target agent's name.
func (t *PeerAgentTool) Name() string {
	return strings.ReplaceAll(t.target, "-", "_")
}

// Target returns the mesh name of the agent this tool proxies.
func (t *PeerAgentTool) Target() string { return t.target }

// Description returns the peer agent's self-description.
func (t *PeerAgentTool) Description() string { return t.description }

// Parameters returns the JSON schema for the proxy arguments.
func (t *PeerAgentTool) Parameters() map[string]any { return t.parameters }

// Call dispatches one invocation to the peer agent.
func (t *PeerAgentTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	state := toolCtx.State()

	if err := util.ValidateArguments(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("argument validation failed: %v", err),
			Code:    CodeInvalidArguments,
			Details: err,
		}
	}

	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, NewToolError(t.Name(), "prompt must not be empty", CodeInvalidArguments)
	}
	propagate, _ := args["propagate_history"].(bool)

	if err := state.EnterPeer(toolCtx.AgentName(), t.target); err != nil {
		ge, _ := mesh.AsGuardError(err)
		logger.Warn("tool.peer.rejected", "target", t.target, "code", ge.Code)
		t.record(state, toolCtx, args, start(), mesh.StatusError, ge.Error())
		return nil, &ToolError{Tool: t.Name(), Message: ge.Error(), Code: ge.Code}
	}
	defer state.ExitPeer(t.target)

	startedAt := start()
	tok := state.Token()

	req := &core.ChatRequest{
		Messages:  t.buildMessages(state, toolCtx.Request(), prompt, propagate),
		MeshState: tok.Encode(),
		AuthToken: toolCtx.AuthToken(),
	}

	ctx, cancel := context.WithTimeout(toolCtx.Context(), t.timeout)
	defer cancel()

	endpoint, err := t.gw.Resolve(t.target)
	if err != nil {
		logger.Error("tool.peer.resolve_failed", "target", t.target, "error", err.Error())
		t.record(state, toolCtx, args, startedAt, mesh.StatusError, err.Error())
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: CodeTransportFailure}
	}

	logger.Info("tool.peer.dispatch", "target", t.target, "endpoint", endpoint, "depth", tok.Depth, "total_calls", tok.TotalCalls)

	resp, err := t.gw.Forward(ctx, endpoint, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			logger.Warn("tool.peer.timeout", "target", t.target, "timeout", t.timeout.String())
			t.record(state, toolCtx, args, startedAt, mesh.StatusTimeout, "peer did not respond in time")
			return nil, NewToolError(t.Name(), fmt.Sprintf("peer agent %q did not respond within %s", t.target, t.timeout), CodeTimeout)
		}
		logger.Error("tool.peer.transport_failed", "target", t.target, "error", err.Error())
		t.record(state, toolCtx, args, startedAt, mesh.StatusError, err.Error())
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: CodeTransportFailure}
	}

	// Fold the peer subtree back in: histories merge under each producing
	// agent's own key, the call delta joins the running total.
	state.Merge(resp.History)
	state.AbsorbCalls(resp.TotalCalls - tok.TotalCalls)

	if resp.Status == core.StatusAborted {
		note := resp.FailureNote
		if note == "" {
			note = "peer aborted without detail"
		}
		logger.Warn("tool.peer.aborted", "target", t.target, "note", note)
		t.record(state, toolCtx, args, startedAt, mesh.StatusError, note)
		return nil, NewToolError(t.Name(), fmt.Sprintf("peer agent %q aborted: %s", t.target, note), CodeExecutionError)
	}

	logger.Info("tool.peer.success", "target", t.target, "duration_ms", time.Since(startedAt).Milliseconds())
	t.record(state, toolCtx, args, startedAt, mesh.StatusSuccess, summarize(resp.Answer))

	return resp.Answer, nil
}

// buildMessages assembles the peer request conversation. With history
// propagation the prompt is preceded by a digest of the tool activity the
// caller has observed so far in this exchange. Attachments on the caller's
// request travel with the prompt so the peer can hand them to its own tools.
func (t *PeerAgentTool) buildMessages(state *mesh.State, callerReq *core.ChatRequest, prompt string, propagate bool) []core.Message {
	var messages []core.Message

	if propagate {
		if digest := historyDigest(state.History()); digest != "" {
			messages = append(messages, core.SystemMessage(
				"Tool activity earlier in this task, for context:\n"+digest))
		}
	}

	user := core.UserMessage(prompt)
	user.Attachments = callerAttachments(callerReq)

	return append(messages, user)
}

func callerAttachments(req *core.ChatRequest) []core.Attachment {
	if req == nil {
		return nil
	}
	var out []core.Attachment
	for _, msg := range req.Messages {
		out = append(out, msg.Attachments...)
	}
	return out
}

func historyDigest(history map[string][]mesh.Record) string {
	var sb strings.Builder
	for agent, recs := range history {
		for _, rec := range recs {
			fmt.Fprintf(&sb, "- %s ran %s (%s)", agent, rec.ToolName, rec.Status)
			if rec.ResultSummary != "" {
				fmt.Fprintf(&sb, ": %s", rec.ResultSummary)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (t *PeerAgentTool) record(state *mesh.State, toolCtx *core.ToolContext, args map[string]any, startedAt time.Time, status mesh.Status, summary string) {
	raw, _ := json.Marshal(args)
	state.Append(toolCtx.AgentName(), mesh.Record{
		ToolName:      t.Name(),
		AgentName:     t.target,
		Arguments:     raw,
		StartedAt:     startedAt,
		FinishedAt:    time.Now().UTC(),
		Status:        status,
		ResultSummary: summary,
	})
}

func start() time.Time { return time.Now().UTC() }

func summarize(answer string) string {
	const max = 240
	answer = strings.TrimSpace(answer)
	if len(answer) > max {
		return answer[:max] + "..."
	}
	return answer
}
