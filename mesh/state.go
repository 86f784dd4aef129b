package mesh

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Guards holds the per-exchange safety thresholds. All three are required
// configuration; Validate rejects zero values so the limits are an explicit
// operator decision rather than a hidden default.
type Guards struct {
	// MaxDepth bounds the hop count of the active call path (root agent included).
	MaxDepth int
	// MaxTotalCalls bounds leaf plus peer invocations across the entire mesh for one exchange.
	MaxTotalCalls int
	// MaxSteps bounds reasoning iterations per agent before the runtime aborts with no progress.
	MaxSteps int
}

// Validate reports a configuration error when any threshold is not positive.
func (g Guards) Validate() error {
	if g.MaxDepth <= 0 {
		return &GuardError{Code: CodeDepthExceeded, Limit: g.MaxDepth}
	}
	if g.MaxTotalCalls <= 0 {
		return &GuardError{Code: CodeBudgetExceeded, Limit: g.MaxTotalCalls}
	}
	if g.MaxSteps <= 0 {
		return &GuardError{Code: CodeBudgetExceeded, Limit: g.MaxSteps}
	}
	return nil
}

// State is the conversation-scoped structure shared by reference across the
// single active call path of one exchange. All methods are safe for
// concurrent use so an agent may issue multiple peer calls in one reasoning
// step; pushes, pops and counter updates are serialized internally.
type State struct {
	mu         sync.Mutex
	exchangeID string
	guards     Guards
	callStack  []string
	depth      int
	totalCalls int
	history    map[string][]Record
}

// NewState creates the State for a fresh exchange rooted at the receiving agent.
func NewState(guards Guards) *State {
	return &State{
		exchangeID: uuid.NewString(),
		guards:     guards,
		history:    map[string][]Record{},
	}
}

// Resume reconstructs a State on the callee side of a peer invocation from
// the token the caller threaded through the request. The callee continues
// the caller's exchange: same call stack, same running totals.
func Resume(guards Guards, tok Token) *State {
	st := &State{
		exchangeID: tok.ExchangeID,
		guards:     guards,
		callStack:  slices.Clone(tok.CallStack),
		depth:      len(tok.CallStack),
		totalCalls: tok.TotalCalls,
		history:    map[string][]Record{},
	}
	if st.exchangeID == "" {
		st.exchangeID = uuid.NewString()
	}
	return st
}

// ExchangeID returns the stable identifier of the exchange this state belongs to.
func (s *State) ExchangeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeID
}

// Guards returns the configured thresholds.
func (s *State) Guards() Guards { return s.guards }

// Depth returns the number of still-active agents on the call path.
func (s *State) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// TotalCalls returns the number of leaf and peer invocations counted so far
// across the whole mesh for this exchange.
func (s *State) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCalls
}

// CallStack returns a copy of the active call path from root to the current agent.
func (s *State) CallStack() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.callStack)
}

// Active reports whether the named agent is on the current call path.
func (s *State) Active(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.callStack, agent)
}

// Begin pushes the named agent as the current frame without counting a call.
// The runtime uses it exactly once per exchange leg: for the root agent, or
// for a callee whose name is not already the top of the resumed stack.
// It returns false when the agent is already the active frame.
func (s *State) Begin(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.callStack); n > 0 && s.callStack[n-1] == agent {
		return false
	}
	s.callStack = append(s.callStack, agent)
	s.depth = len(s.callStack)
	return true
}

// EnterPeer applies the cycle, depth and budget guards for a prospective
// peer invocation by caller and, on acceptance, pushes the target onto the
// call stack and counts the call. Each violation returns a *GuardError and
// leaves the state untouched; the rejected call must not be dispatched.
//
// The cycle guard rejects only calls to a still-active ancestor of the
// caller. Frames pushed after the caller's own frame belong to concurrent
// sibling invocations, which are not part of the caller's call path.
func (s *State) EnterPeer(caller, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.ancestorsOf(caller), target) {
		return &GuardError{Code: CodeCycleDetected, Agent: target}
	}
	if s.depth+1 > s.guards.MaxDepth {
		return &GuardError{Code: CodeDepthExceeded, Agent: target, Limit: s.guards.MaxDepth}
	}
	if s.totalCalls+1 > s.guards.MaxTotalCalls {
		return &GuardError{Code: CodeBudgetExceeded, Agent: target, Limit: s.guards.MaxTotalCalls}
	}

	s.callStack = append(s.callStack, target)
	s.depth = len(s.callStack)
	s.totalCalls++

	return nil
}

// ancestorsOf returns the call path up to and including the caller's most
// recent frame. An unknown caller yields the whole stack, keeping the cycle
// guard conservative. Callers must hold s.mu.
func (s *State) ancestorsOf(caller string) []string {
	for i := len(s.callStack) - 1; i >= 0; i-- {
		if s.callStack[i] == caller {
			return s.callStack[:i+1]
		}
	}
	return s.callStack
}

// ExitPeer removes the target's most recent frame from the call stack. It is
// called on every exit path of a peer invocation: success, error and timeout
// alike. Concurrent sibling invocations may return out of order, so the
// frame is removed wherever it sits, not only at the top.
func (s *State) ExitPeer(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.callStack) - 1; i >= 0; i-- {
		if s.callStack[i] == target {
			s.callStack = append(s.callStack[:i], s.callStack[i+1:]...)
			s.depth = len(s.callStack)
			return
		}
	}
}

// End pops the frame pushed by Begin when the agent finishes its leg.
func (s *State) End(agent string) { s.ExitPeer(agent) }

// CountCall counts one leaf invocation against the exchange budget. The
// call that would exceed the budget is rejected with a *GuardError and must
// not be executed.
func (s *State) CountCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalCalls+1 > s.guards.MaxTotalCalls {
		return &GuardError{Code: CodeBudgetExceeded, Limit: s.guards.MaxTotalCalls}
	}
	s.totalCalls++
	return nil
}

// AbsorbCalls folds n calls made inside a returned peer's subtree into the
// caller's running total. The counter only ever moves forward.
func (s *State) AbsorbCalls(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls += n
}

// Append records one invocation under the producing agent's own key.
// Histories are created lazily on the first record for that agent.
func (s *State) Append(agent string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[agent] = append(s.history[agent], rec)
}

// Merge appends a returned peer's reported histories under each reporting
// agent's own key, preserving invocation order. Existing records are never
// overwritten or edited.
func (s *State) Merge(reported map[string][]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for agent, recs := range reported {
		s.history[agent] = append(s.history[agent], recs...)
	}
}

// AgentHistory returns a copy of the records the named agent produced.
func (s *State) AgentHistory(agent string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[agent])
}

// History returns a copy of the full per-agent tool call history mapping.
func (s *State) History() map[string][]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Record, len(s.history))
	for agent, recs := range s.history {
		out[agent] = slices.Clone(recs)
	}
	return out
}

// Token snapshots the continuation data a peer needs to resume this
// exchange: identifiers, the active call path and the running call total.
func (s *State) Token() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{
		ExchangeID: s.exchangeID,
		CallStack:  slices.Clone(s.callStack),
		Depth:      s.depth,
		TotalCalls: s.totalCalls,
	}
}
