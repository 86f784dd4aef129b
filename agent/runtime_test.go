package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/gateway"
	"github.com/meshkit-ai/meshkit/mesh"
	"github.com/meshkit-ai/meshkit/model"
	"github.com/meshkit-ai/meshkit/session"
	"github.com/meshkit-ai/meshkit/tool"
)

func testGuards() mesh.Guards {
	return mesh.Guards{MaxDepth: 4, MaxTotalCalls: 10, MaxSteps: 8}
}

func callTool(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func userRequest(prompt string) *core.ChatRequest {
	return &core.ChatRequest{Messages: []core.Message{core.UserMessage(prompt)}}
}

func TestRuntime_LeafToolFlow(t *testing.T) {
	mdl := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "calculator", `{"expression":"6*7"}`),
		}},
		model.Decision{Text: "The result is 42."},
	)

	rt, err := New("calculations-agent", "Does math.", mdl, testGuards(),
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("What is 6*7?"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, "The result is 42.", resp.Answer)
	assert.Equal(t, 1, resp.TotalCalls)

	recs := resp.History["calculations-agent"]
	require.Len(t, recs, 1)
	assert.Equal(t, "calculator", recs[0].ToolName)
	assert.Equal(t, mesh.StatusSuccess, recs[0].Status)
	assert.False(t, recs[0].IsPeer())

	// The model saw the tool result before finalizing.
	reqs := mdl.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, last.Role)
	assert.Contains(t, last.Content, "42")
}

func TestRuntime_ToolErrorFeedsBackAndRecovers(t *testing.T) {
	mdl := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "calculator", `{"expression":"1/0"}`),
		}},
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-2", "calculator", `{"expression":"1/2"}`),
		}},
		model.Decision{Text: "Half."},
	)

	rt, err := New("calculations-agent", "Does math.", mdl, testGuards(),
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("divide"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)

	recs := resp.History["calculations-agent"]
	require.Len(t, recs, 2)
	assert.Equal(t, mesh.StatusError, recs[0].Status)
	assert.Equal(t, mesh.StatusSuccess, recs[1].Status)

	// The failed call still consumed budget.
	assert.Equal(t, 2, resp.TotalCalls)

	reqs := mdl.Requests()
	errMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, errMsg.Content, tool.CodeExecutionError)
}

func TestRuntime_PeerInvocation(t *testing.T) {
	gw := gateway.NewLocalGateway()

	calleeModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-b1", "calculator", `{"expression":"2+2"}`),
		}},
		model.Decision{Text: "4"},
	)
	callee, err := New("calculations-agent", "Does math.", calleeModel, testGuards(),
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)
	gw.Register("calculations-agent", callee)

	callerModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-a1", "calculations_agent", `{"prompt":"what is 2+2?"}`),
		}},
		model.Decision{Text: "The peer says 4."},
	)
	caller, err := New("assistant-agent", "General assistant.", callerModel, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{
				tool.NewPeerAgentTool("calculations-agent", "Does math.", gw),
			}
		},
	)
	require.NoError(t, err)

	resp, err := caller.Handle(context.Background(), userRequest("ask the math agent"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, "The peer says 4.", resp.Answer)

	// One peer call plus one leaf call inside the peer.
	assert.Equal(t, 2, resp.TotalCalls)

	// Each agent's records live under its own key.
	callerRecs := resp.History["assistant-agent"]
	require.Len(t, callerRecs, 1)
	assert.True(t, callerRecs[0].IsPeer())
	assert.Equal(t, "calculations-agent", callerRecs[0].AgentName)
	assert.Equal(t, mesh.StatusSuccess, callerRecs[0].Status)

	calleeRecs := resp.History["calculations-agent"]
	require.Len(t, calleeRecs, 1)
	assert.Equal(t, "calculator", calleeRecs[0].ToolName)
}

// tokenRecordingGateway captures the mesh state token of every forwarded
// request so tests can inspect the call path a peer actually received.
type tokenRecordingGateway struct {
	inner  *gateway.LocalGateway
	mu     sync.Mutex
	tokens []string
}

func (g *tokenRecordingGateway) Resolve(agent string) (string, error) {
	return g.inner.Resolve(agent)
}

func (g *tokenRecordingGateway) Forward(ctx context.Context, endpoint string, req *core.ChatRequest) (*core.ChatResponse, error) {
	g.mu.Lock()
	g.tokens = append(g.tokens, req.MeshState)
	g.mu.Unlock()
	return g.inner.Forward(ctx, endpoint, req)
}

func (g *tokenRecordingGateway) Tokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tokens...)
}

func TestRuntime_ParallelPeerCallsInOneStep(t *testing.T) {
	gw := &tokenRecordingGateway{inner: gateway.NewLocalGateway()}

	mathModel := model.NewScriptModel(
		model.Decision{Text: "4"},
		model.Decision{Text: "8"},
	)
	calc, err := New("calculations-agent", "Does math.", mathModel, testGuards())
	require.NoError(t, err)
	gw.inner.Register("calculations-agent", calc)

	searchModel := model.NewScriptModel(model.Decision{Text: "found it"})
	search, err := New("web-search-agent", "Searches the web.", searchModel, testGuards())
	require.NoError(t, err)
	gw.inner.Register("web-search-agent", search)

	// Two peer calls in one step, then a follow-up call to the first peer.
	callerModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "calculations_agent", `{"prompt":"what is 2+2?"}`),
			callTool("call-2", "web_search_agent", `{"prompt":"look up pi"}`),
		}},
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-3", "calculations_agent", `{"prompt":"what is 4+4?"}`),
		}},
		model.Decision{Text: "done"},
	)
	caller, err := New("assistant-agent", "General assistant.", callerModel, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{
				tool.NewPeerAgentTool("calculations-agent", "Does math.", gw),
				tool.NewPeerAgentTool("web-search-agent", "Searches the web.", gw),
			}
			o.MaxParallelTools = 2
		},
	)
	require.NoError(t, err)

	resp, err := caller.Handle(context.Background(), userRequest("fan out"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, 3, resp.TotalCalls)

	// None of the three calls was misreported as a cycle.
	for _, req := range callerModel.Requests() {
		for _, msg := range req.Messages {
			if msg.Role == core.RoleTool {
				assert.NotContains(t, msg.Content, tool.CodeCycleDetected)
			}
		}
	}

	recs := resp.History["assistant-agent"]
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.True(t, rec.IsPeer())
		assert.Equal(t, mesh.StatusSuccess, rec.Status)
	}

	// Both sibling frames were popped before the follow-up call, so it saw
	// a clean call path of exactly caller plus target.
	toks := gw.Tokens()
	require.Len(t, toks, 3)
	last, err := mesh.DecodeToken(toks[2])
	require.NoError(t, err)
	assert.Equal(t, []string{"assistant-agent", "calculations-agent"}, last.CallStack)
	assert.Equal(t, 2, last.Depth)
}

func TestRuntime_PeerThenOwnLeafInOneExchange(t *testing.T) {
	gw := gateway.NewLocalGateway()

	calleeModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-b1", "calculator", `{"expression":"3*3"}`),
		}},
		model.Decision{Text: "9"},
	)
	callee, err := New("calculations-agent", "Does math.", calleeModel, testGuards(),
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)
	gw.Register("calculations-agent", callee)

	callerModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-a1", "calculations_agent", `{"prompt":"what is 3*3?"}`),
		}},
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-a2", "calculator", `{"expression":"9+1"}`),
		}},
		model.Decision{Text: "Ten."},
	)
	caller, err := New("assistant-agent", "General assistant.", callerModel, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{
				tool.NewCalculator(),
				tool.NewPeerAgentTool("calculations-agent", "Does math.", gw),
			}
		},
	)
	require.NoError(t, err)

	resp, err := caller.Handle(context.Background(), userRequest("delegate, then add one"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, "Ten.", resp.Answer)

	// One peer call, one leaf inside the peer, one leaf of the caller's own.
	assert.Equal(t, 3, resp.TotalCalls)

	// The caller's key holds its peer record and its own leaf record in order.
	callerRecs := resp.History["assistant-agent"]
	require.Len(t, callerRecs, 2)
	assert.True(t, callerRecs[0].IsPeer())
	assert.Equal(t, "calculations-agent", callerRecs[0].AgentName)
	assert.Equal(t, mesh.StatusSuccess, callerRecs[0].Status)
	assert.False(t, callerRecs[1].IsPeer())
	assert.Equal(t, "calculator", callerRecs[1].ToolName)
	assert.Equal(t, mesh.StatusSuccess, callerRecs[1].Status)

	calleeRecs := resp.History["calculations-agent"]
	require.Len(t, calleeRecs, 1)
	assert.Equal(t, "calculator", calleeRecs[0].ToolName)
}

func TestRuntime_CycleRejectedBeforeDispatch(t *testing.T) {
	gw := gateway.NewLocalGateway()

	// b tries to call back into a, which is still on the call path.
	bModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-b1", "agent_a", `{"prompt":"ping"}`),
		}},
		model.Decision{Text: "Could not consult agent-a, answering alone."},
	)
	b, err := New("agent-b", "B.", bModel, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{tool.NewPeerAgentTool("agent-a", "A.", gw)}
		},
	)
	require.NoError(t, err)
	gw.Register("agent-b", b)

	aModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-a1", "agent_b", `{"prompt":"delegate"}`),
		}},
		model.Decision{Text: "Done."},
	)
	aHandlerModel := model.NewScriptModel() // must never be consulted
	aPeer, err := New("agent-a", "A.", aHandlerModel, testGuards())
	require.NoError(t, err)
	gw.Register("agent-a", aPeer)

	a, err := New("agent-a", "A.", aModel, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{tool.NewPeerAgentTool("agent-b", "B.", gw)}
		},
	)
	require.NoError(t, err)

	resp, err := a.Handle(context.Background(), userRequest("start"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)

	// The re-entrant call was rejected on b's side without dispatch.
	assert.Empty(t, aHandlerModel.Requests())

	bReqs := bModel.Requests()
	require.Len(t, bReqs, 2)
	rejection := bReqs[1].Messages[len(bReqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, rejection.Role)
	assert.Contains(t, rejection.Content, tool.CodeCycleDetected)

	// b's rejected attempt is recorded under b's key.
	var found bool
	for _, rec := range resp.History["agent-b"] {
		if rec.AgentName == "agent-a" && rec.Status == mesh.StatusError {
			found = true
		}
	}
	assert.True(t, found, "rejected peer attempt must appear in agent-b's history")
}

func TestRuntime_DepthGuard(t *testing.T) {
	gw := gateway.NewLocalGateway()

	neverModel := model.NewScriptModel()
	never, err := New("agent-b", "B.", neverModel, testGuards())
	require.NoError(t, err)
	gw.Register("agent-b", never)

	aModel := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "agent_b", `{"prompt":"go"}`),
		}},
		model.Decision{Text: "Stayed home."},
	)
	guards := mesh.Guards{MaxDepth: 1, MaxTotalCalls: 10, MaxSteps: 8}
	a, err := New("agent-a", "A.", aModel, guards,
		func(o *Options) {
			o.Tools = []tool.Tool{tool.NewPeerAgentTool("agent-b", "B.", gw)}
		},
	)
	require.NoError(t, err)

	resp, err := a.Handle(context.Background(), userRequest("start"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Empty(t, neverModel.Requests(), "guard rejection must not cross the transport")

	reqs := aModel.Requests()
	rejection := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, rejection.Content, tool.CodeDepthExceeded)
}

func TestRuntime_BudgetGuard(t *testing.T) {
	mdl := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "calculator", `{"expression":"1+1"}`),
		}},
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-2", "calculator", `{"expression":"2+2"}`),
		}},
		model.Decision{Text: "Used what I had."},
	)

	guards := mesh.Guards{MaxDepth: 4, MaxTotalCalls: 1, MaxSteps: 8}
	rt, err := New("calculations-agent", "Does math.", mdl, guards,
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("count"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, 1, resp.TotalCalls, "the rejected call must not be counted")

	reqs := mdl.Requests()
	rejection := reqs[2].Messages[len(reqs[2].Messages)-1]
	assert.Contains(t, rejection.Content, tool.CodeBudgetExceeded)
}

func TestRuntime_NoProgressAbort(t *testing.T) {
	mdl := model.NewScriptModel().FailWith(fmt.Errorf("model unavailable"))

	rt, err := New("agent-a", "A.", mdl, testGuards(),
		func(o *Options) { o.MaxErrorStreak = 2 },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusAborted, resp.Status)
	assert.Contains(t, resp.FailureNote, "no progress")
}

func TestRuntime_MaxStepsAbort(t *testing.T) {
	// The model keeps asking for tools and never finalizes.
	var decisions []model.Decision
	for i := 0; i < 5; i++ {
		decisions = append(decisions, model.Decision{ToolCalls: []core.ToolCall{
			callTool(fmt.Sprintf("call-%d", i), "calculator", `{"expression":"1"}`),
		}})
	}
	mdl := model.NewScriptModel(decisions...)

	guards := mesh.Guards{MaxDepth: 4, MaxTotalCalls: 10, MaxSteps: 3}
	rt, err := New("agent-a", "A.", mdl, guards,
		func(o *Options) { o.Tools = []tool.Tool{tool.NewCalculator()} },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("loop"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusAborted, resp.Status)
	assert.Contains(t, resp.FailureNote, "3 steps")
}

func TestRuntime_ParallelCallsPreserveOrder(t *testing.T) {
	mdl := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "calculator", `{"expression":"1+1"}`),
			callTool("call-2", "calculator", `{"expression":"2+2"}`),
			callTool("call-3", "calculator", `{"expression":"3+3"}`),
		}},
		model.Decision{Text: "ok"},
	)

	rt, err := New("agent-a", "A.", mdl, testGuards(),
		func(o *Options) {
			o.Tools = []tool.Tool{tool.NewCalculator()}
			o.MaxParallelTools = 2
		},
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("batch"))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalCalls)

	reqs := mdl.Requests()
	msgs := reqs[1].Messages
	// The three tool results follow the assistant message in request order.
	var callIDs []string
	for _, m := range msgs {
		if m.Role == core.RoleTool {
			callIDs = append(callIDs, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call-1", "call-2", "call-3"}, callIDs)
}

func TestRuntime_UnknownToolReported(t *testing.T) {
	mdl := model.NewScriptModel(
		model.Decision{ToolCalls: []core.ToolCall{
			callTool("call-1", "nonexistent", `{}`),
		}},
		model.Decision{Text: "never mind"},
	)

	rt, err := New("agent-a", "A.", mdl, testGuards())
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("go"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, resp.Status)

	reqs := mdl.Requests()
	result := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, result.Content, tool.CodeInvalidArguments)
}

func TestRuntime_AuditPersistsExchange(t *testing.T) {
	store := session.NewInMemoryStore()

	mdl := model.NewScriptModel(model.Decision{Text: "hi"})
	rt, err := New("agent-a", "A.", mdl, testGuards(),
		func(o *Options) { o.Store = store },
	)
	require.NoError(t, err)

	resp, err := rt.Handle(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, resp.Status)

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, "agent-a", all[0].Agent)
	assert.Equal(t, string(core.StatusCompleted), all[0].Status)
	assert.Equal(t, "hi", all[0].Answer)
	assert.NotEmpty(t, all[0].ExchangeID)
	assert.False(t, all[0].FinishedAt.IsZero())

	legs, err := store.List(context.Background(), all[0].ExchangeID)
	require.NoError(t, err)
	assert.Len(t, legs, 1)
}

func TestRuntime_RequiresGuards(t *testing.T) {
	mdl := model.NewScriptModel()
	_, err := New("agent-a", "A.", mdl, mesh.Guards{})
	assert.Error(t, err)

	_, err = New("", "A.", mdl, testGuards())
	assert.Error(t, err)

	_, err = New("agent-a", "A.", nil, testGuards())
	assert.Error(t, err)
}

func TestRuntime_InvalidTokenRejected(t *testing.T) {
	mdl := model.NewScriptModel(model.Decision{Text: "hi"})
	rt, err := New("agent-a", "A.", mdl, testGuards())
	require.NoError(t, err)

	_, err = rt.Handle(context.Background(), &core.ChatRequest{
		Messages:  []core.Message{core.UserMessage("hello")},
		MeshState: "garbage!!!",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "mesh state token"))
}
