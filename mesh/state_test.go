package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuards() Guards {
	return Guards{MaxDepth: 4, MaxTotalCalls: 10, MaxSteps: 8}
}

func TestState_DepthMatchesCallStack(t *testing.T) {
	st := NewState(testGuards())

	st.Begin("calculations-agent")
	assert.Equal(t, 1, st.Depth())
	assert.Len(t, st.CallStack(), st.Depth())

	require.NoError(t, st.EnterPeer("calculations-agent", "web-search-agent"))
	assert.Equal(t, 2, st.Depth())
	assert.Len(t, st.CallStack(), st.Depth())

	st.ExitPeer("web-search-agent")
	assert.Equal(t, 1, st.Depth())
	assert.Len(t, st.CallStack(), st.Depth())

	st.End("calculations-agent")
	assert.Equal(t, 0, st.Depth())
	assert.Empty(t, st.CallStack())
}

func TestState_CycleGuard(t *testing.T) {
	st := NewState(testGuards())
	st.Begin("a")
	require.NoError(t, st.EnterPeer("a", "b"))

	err := st.EnterPeer("b", "a")
	require.Error(t, err)
	ge, ok := AsGuardError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCycleDetected, ge.Code)
	assert.Equal(t, "a", ge.Agent)

	// The rejected call must not have touched the stack or counters.
	assert.Equal(t, []string{"a", "b"}, st.CallStack())
	assert.Equal(t, 1, st.TotalCalls())

	// Sequential re-invocation after return is allowed.
	st.ExitPeer("b")
	require.NoError(t, st.EnterPeer("a", "b"))
}

func TestState_ParallelSiblingsPopCleanly(t *testing.T) {
	st := NewState(testGuards())
	st.Begin("a")

	// Two sibling peer calls issued from the same reasoning step.
	require.NoError(t, st.EnterPeer("a", "b"))
	require.NoError(t, st.EnterPeer("a", "c"))
	assert.Equal(t, []string{"a", "b", "c"}, st.CallStack())

	// Siblings may return out of order; each pop removes its own frame.
	st.ExitPeer("b")
	st.ExitPeer("c")
	assert.Equal(t, []string{"a"}, st.CallStack())
	assert.Equal(t, 1, st.Depth())

	// A later sequential call to either sibling is not a cycle.
	require.NoError(t, st.EnterPeer("a", "b"))
	st.ExitPeer("b")
}

func TestState_ParallelSameTargetAllowed(t *testing.T) {
	st := NewState(testGuards())
	st.Begin("a")

	// The same peer invoked twice in one step is two sibling frames, not
	// a cycle: only calls to a still-waiting ancestor are rejected.
	require.NoError(t, st.EnterPeer("a", "b"))
	require.NoError(t, st.EnterPeer("a", "b"))
	assert.Equal(t, []string{"a", "b", "b"}, st.CallStack())

	// With a sibling "b" frame still active, a call back to "a" from
	// inside "b" is still a cycle: "a" is b's ancestor.
	err := st.EnterPeer("b", "a")
	ge, ok := AsGuardError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCycleDetected, ge.Code)

	st.ExitPeer("b")
	st.ExitPeer("b")
	assert.Equal(t, []string{"a"}, st.CallStack())
	assert.Equal(t, 1, st.Depth())
	assert.Equal(t, 2, st.TotalCalls())
}

func TestState_DepthGuard(t *testing.T) {
	st := NewState(Guards{MaxDepth: 2, MaxTotalCalls: 10, MaxSteps: 8})
	st.Begin("a")
	require.NoError(t, st.EnterPeer("a", "b"))

	err := st.EnterPeer("b", "c")
	ge, ok := AsGuardError(err)
	require.True(t, ok)
	assert.Equal(t, CodeDepthExceeded, ge.Code)
	assert.Equal(t, 2, ge.Limit)
	assert.Equal(t, 2, st.Depth())
}

func TestState_BudgetGuard(t *testing.T) {
	st := NewState(Guards{MaxDepth: 4, MaxTotalCalls: 2, MaxSteps: 8})
	st.Begin("a")

	require.NoError(t, st.CountCall())
	require.NoError(t, st.CountCall())

	err := st.CountCall()
	ge, ok := AsGuardError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBudgetExceeded, ge.Code)
	assert.Equal(t, 2, st.TotalCalls(), "rejected call must not be counted")

	// Peer calls draw from the same exchange-wide budget.
	err = st.EnterPeer("a", "b")
	ge, ok = AsGuardError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBudgetExceeded, ge.Code)
	assert.Equal(t, 1, st.Depth())
}

func TestState_TotalCallsMonotonic(t *testing.T) {
	st := NewState(testGuards())
	st.Begin("a")

	last := st.TotalCalls()
	require.NoError(t, st.CountCall())
	require.NoError(t, st.EnterPeer("a", "b"))
	st.AbsorbCalls(3)
	st.ExitPeer("b")
	st.AbsorbCalls(-1) // ignored: the counter only moves forward

	assert.GreaterOrEqual(t, st.TotalCalls(), last)
	assert.Equal(t, 5, st.TotalCalls())
}

func TestState_MergePreservesInvocationOrder(t *testing.T) {
	st := NewState(testGuards())

	first := Record{ToolName: "web_search", Status: StatusSuccess, ResultSummary: "first"}
	second := Record{ToolName: "web_search", Status: StatusSuccess, ResultSummary: "second"}

	st.Merge(map[string][]Record{"b": {first}})
	st.Merge(map[string][]Record{"b": {second}})

	got := st.AgentHistory("b")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ResultSummary)
	assert.Equal(t, "second", got[1].ResultSummary)
}

func TestState_AppendKeysRecordsByProducer(t *testing.T) {
	st := NewState(testGuards())
	st.Append("a", Record{ToolName: "calculator", Status: StatusSuccess})
	st.Merge(map[string][]Record{"b": {{ToolName: "web_search", AgentName: "", Status: StatusError}}})

	hist := st.History()
	assert.Len(t, hist["a"], 1)
	assert.Len(t, hist["b"], 1)

	// Mutating the copy must not leak back into the state.
	hist["a"][0].ResultSummary = "mutated"
	assert.Empty(t, st.AgentHistory("a")[0].ResultSummary)
}

func TestToken_RoundTrip(t *testing.T) {
	st := NewState(testGuards())
	st.Begin("a")
	require.NoError(t, st.EnterPeer("a", "b"))
	require.NoError(t, st.CountCall())

	tok := st.Token()
	decoded, err := DecodeToken(tok.Encode())
	require.NoError(t, err)
	assert.Equal(t, tok, decoded)

	resumed := Resume(testGuards(), decoded)
	assert.Equal(t, st.ExchangeID(), resumed.ExchangeID())
	assert.Equal(t, []string{"a", "b"}, resumed.CallStack())
	assert.Equal(t, 2, resumed.TotalCalls())
	assert.Equal(t, resumed.Depth(), len(resumed.CallStack()))

	// The callee is already the top frame; Begin must not double-push.
	assert.False(t, resumed.Begin("b"))
	assert.Equal(t, 2, resumed.Depth())
}

func TestDecodeToken_Invalid(t *testing.T) {
	_, err := DecodeToken("not base64 ???")
	assert.Error(t, err)

	tampered := Token{ExchangeID: "x", CallStack: []string{"a"}, Depth: 3}
	_, err = DecodeToken(tampered.Encode())
	assert.Error(t, err)
}

func TestGuards_Validate(t *testing.T) {
	assert.NoError(t, testGuards().Validate())
	assert.Error(t, Guards{MaxDepth: 0, MaxTotalCalls: 1, MaxSteps: 1}.Validate())
	assert.Error(t, Guards{MaxDepth: 1, MaxTotalCalls: 0, MaxSteps: 1}.Validate())
	assert.Error(t, Guards{MaxDepth: 1, MaxTotalCalls: 1, MaxSteps: 0}.Validate())
}

func TestRecord_IsPeer(t *testing.T) {
	now := time.Now().UTC()
	leaf := Record{ToolName: "calculator", StartedAt: now, FinishedAt: now}
	peer := Record{ToolName: "web_search_agent", AgentName: "web-search-agent", StartedAt: now, FinishedAt: now}
	assert.False(t, leaf.IsPeer())
	assert.True(t, peer.IsPeer())
}
