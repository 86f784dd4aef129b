// Package mesh implements the conversation-scoped shared state threaded
// through every inter-agent hop of an exchange.
//
// A State tracks the chain of still-active peer invocations (the call stack),
// the total number of tool invocations across the whole mesh, and the
// per-agent tool call history. It is the single shared-by-reference object
// passed down through every peer invocation:
//
//   - the call stack always reflects the exact chain of not-yet-returned
//     peer invocations; it is popped on return, never left dangling on error
//   - depth equals the call stack length at all times
//   - every agent's history key contains exactly the records that agent
//     itself produced; a caller only appends a peer's reported records under
//     the peer's own key
//   - the total call counter is monotonically non-decreasing within one
//     exchange and bounds invocations across the entire mesh, not per agent
//
// Guard thresholds (maximum hop depth, maximum total calls, maximum
// reasoning steps) have no universally correct defaults and must be supplied
// by configuration.
package mesh
