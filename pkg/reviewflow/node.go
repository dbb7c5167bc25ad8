package reviewflow

import "github.com/reviewkit/reviewflow/pkg/reviewflow/state"

// END is the terminal marker. Use it as an edge target or routing label
// target to indicate the execution should complete.
const END = "__end__"

// NodeFunc is the signature for all workflow nodes. A node receives the
// execution context and the current state and returns the next state.
//
// The state is passed by value. Nodes must build their return value with
// the state package's With* helpers and never mutate containers reached
// through the received value; parallel branches rely on this.
//
// A node reports a business failure either by returning a state with the
// error slot set (preferred, clearer for routing) or by returning a
// non-nil error, which the executor folds into the state for it. Either
// way, routing continues so cleanup and terminal nodes still run.
type NodeFunc func(ctx Context, s state.State) (state.State, error)

// RouterFunc picks the label for a conditional edge. The label must be one
// of the keys declared with AddConditionalEdge; anything else is a fatal
// RoutingError, never a silent default.
type RouterFunc func(ctx Context, s state.State) string

// SelectFunc picks which declared fan-out targets to run concurrently.
// Returning an empty slice means immediate join with no branch work.
// Every returned name must be one of the declared targets, without
// duplicates.
type SelectFunc func(ctx Context, s state.State) []string

// nodeSpec is a registered node: its transformation plus capability flags.
// Immutable after graph construction.
type nodeSpec struct {
	id string
	fn NodeFunc

	// suspending marks nodes that may block on I/O. The executor's
	// ordering guarantees hold either way; the flag feeds logging and
	// lets callers audit where cancellation can take effect.
	suspending bool

	// successOnly marks nodes that must not run once the state carries a
	// business failure. The executor routes around them.
	successOnly bool
}

// NodeOption configures a node at registration time.
type NodeOption func(*nodeSpec)

// Suspending marks the node as I/O-bound: it may block on network calls
// and is expected to honor context cancellation.
func Suspending() NodeOption {
	return func(n *nodeSpec) {
		n.suspending = true
	}
}

// SuccessOnly marks the node as depending on a healthy state. Once a
// business failure is recorded the executor skips it and proceeds
// straight to routing, so error states flow to cleanup nodes instead.
func SuccessOnly() NodeOption {
	return func(n *nodeSpec) {
		n.successOnly = true
	}
}
