package reviewflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")

	// ErrDuplicateTarget indicates a fan-out declares the same target twice.
	ErrDuplicateTarget = errors.New("duplicate fan-out target")

	// ErrNoJoin indicates a fan-out target has no path to the declared join.
	ErrNoJoin = errors.New("fan-out target cannot reach join")

	// ErrJoinConflict indicates two fan-outs declare the same join node.
	ErrJoinConflict = errors.New("join node already claimed by another fan-out")

	// ErrCycle indicates the graph contains a cycle that is not a declared
	// bounded retry edge.
	ErrCycle = errors.New("graph contains an undeclared cycle")

	// ErrRetryEdgeUndeclared indicates a retry annotation does not match
	// any declared transition.
	ErrRetryEdgeUndeclared = errors.New("retry edge does not match a declared transition")
)

// Sentinel errors for execution. These are engine-level faults: the run
// could not proceed, as opposed to a node reporting a business failure
// through the state's error slot.
var (
	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrMaxIterations indicates the execution loop exceeded the configured limit.
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	// ErrEmptyLabel indicates a routing function returned an empty label.
	ErrEmptyLabel = errors.New("router returned empty label")

	// ErrUnknownLabel indicates a routing function returned a label with
	// no declared mapping. Execution fails; there is no default branch.
	ErrUnknownLabel = errors.New("router returned unmapped label")

	// ErrUnknownTarget indicates a fan-out selector returned a node that
	// was not declared as one of its targets.
	ErrUnknownTarget = errors.New("selector returned undeclared target")

	// ErrRetryExceeded indicates a bounded retry edge was traversed more
	// times than its declared maximum.
	ErrRetryExceeded = errors.New("retry bound exceeded")
)

// RoutingError reports a conditional edge whose routing function produced
// an unusable label, or a fan-out selector that picked an undeclared
// target. It is an engine-level fault and ends the run as failed.
type RoutingError struct {
	// FromNode is the node whose edge was being resolved.
	FromNode string
	// Label is what the routing or selector function returned.
	Label string
	// Err is one of ErrEmptyLabel, ErrUnknownLabel, ErrUnknownTarget.
	Err error
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing from %s returned %q: %v", e.FromNode, e.Label, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a node. The executor recovers it
// into the state's error slot so cleanup and terminal nodes still run; the
// PanicError is reachable through StepError.Unwrap.
type PanicError struct {
	// NodeID is the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// RetryExceededError provides context when a bounded retry edge exceeds
// its declared maximum. It is an engine-level fault.
type RetryExceededError struct {
	// From and To identify the retry edge.
	From string
	To   string
	// Max is the declared bound.
	Max int
}

// Error implements the error interface.
func (e *RetryExceededError) Error() string {
	return fmt.Sprintf("retry edge %s -> %s exceeded bound of %d", e.From, e.To, e.Max)
}

// Unwrap returns ErrRetryExceeded for errors.Is support.
func (e *RetryExceededError) Unwrap() error {
	return ErrRetryExceeded
}

// MaxIterationsError provides context when the execution loop limit is hit.
type MaxIterationsError struct {
	// Max is the configured iteration limit.
	Max int
	// LastNodeID is the node that would have executed next.
	LastNodeID string
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxIterations for errors.Is support.
func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// CancellationError reports that the run was cancelled, or that a fan-out
// branch failed to stop within the grace period after cancellation.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasExecuting is true if cancellation hit during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// FanOutError wraps an engine-level fault raised inside a fan-out branch.
// The whole fan-out reports as failed only after every branch has been
// drained, so no branch's outcome is silently dropped.
type FanOutError struct {
	// FanNode is the node the branches fanned out from.
	FanNode string
	// Branch is the entry node of the failing branch.
	Branch string
	// Err is the branch's engine-level fault.
	Err error
}

// Error implements the error interface.
func (e *FanOutError) Error() string {
	return fmt.Sprintf("fan-out from %s (branch %s): %v", e.FanNode, e.Branch, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FanOutError) Unwrap() error {
	return e.Err
}
