package reviewflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes and routing functions.
// It extends context.Context with run metadata and a structured logger.
//
// Context is immutable after creation. The executor derives a context per
// node with the NodeID set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node
	// fields. Never nil; defaults to slog.Default().
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the node currently executing, or "" before the run
	// starts.
	NodeID() string

	// Branch returns the fan-out branch this context belongs to, or ""
	// on the main chain.
	Branch() string

	// Attempt returns how many times the current node has run in this
	// execution (retry edges re-enter nodes; 1 = first pass).
	Attempt() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger  *slog.Logger
	runID   string
	nodeID  string
	branch  string
	attempt int
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Branch returns the current fan-out branch, if any.
func (c *executionContext) Branch() string {
	return c.branch
}

// Attempt returns the attempt number for the current node.
func (c *executionContext) Attempt() int {
	return c.attempt
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context. The executor enriches it
// with run_id, node_id, and branch during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithContextRunID sets the run identifier. A UUID is generated if unset.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := reviewflow.NewContext(context.Background(),
//	    reviewflow.WithLogger(logger))
//	final, err := plan.Run(ctx, initial)
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		attempt: 1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// forNode returns a derived context for one node execution.
func (c *executionContext) forNode(nodeID string, attempt int) *executionContext {
	logger := c.logger.With("run_id", c.runID, "node_id", nodeID)
	if c.branch != "" {
		logger = logger.With("branch", c.branch)
	}
	if attempt > 1 {
		logger = logger.With("attempt", attempt)
	}
	return &executionContext{
		Context: c.Context,
		logger:  logger,
		runID:   c.runID,
		nodeID:  nodeID,
		branch:  c.branch,
		attempt: attempt,
	}
}

// forBranch returns a derived context for a fan-out branch.
func (c *executionContext) forBranch(branch string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  c.logger,
		runID:   c.runID,
		branch:  branch,
		attempt: 1,
	}
}

// asExecution normalizes any Context into the internal form so derived
// contexts can be built from caller-supplied implementations too.
func asExecution(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context: ctx,
		logger:  ctx.Logger(),
		runID:   ctx.RunID(),
		nodeID:  ctx.NodeID(),
		branch:  ctx.Branch(),
		attempt: ctx.Attempt(),
	}
}
