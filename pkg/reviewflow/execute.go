package reviewflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/observability"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the plan against the caller's initial state and returns the
// final state.
//
// The two failure modes are deliberately distinct:
//
//   - A node-level (business) failure never aborts the run. The executor
//     records it in the state's error slot, skips success-only nodes, and
//     keeps routing so compensation and terminal nodes still execute. Run
//     returns a nil error; inspect final.Err.
//   - An engine-level fault (unmapped routing label, retry bound exceeded,
//     cancellation, plan inconsistency) ends the run immediately. Run
//     returns a non-nil error along with the state at the point of fault
//     for diagnostics.
//
// The engine keeps no reference to the state after Run returns.
func (cg *CompiledGraph) Run(ctx Context, s state.State, opts ...RunOption) (result state.State, runErr error) {
	if ctx == nil {
		return s, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ec := asExecution(ctx)
	runID := ec.RunID()
	startTime := time.Now()

	observability.LogRunStart(ec.Logger(), runID)

	var tracingCtx context.Context = ec
	var runSpan trace.Span
	if cfg.tracingEnabled {
		tracingCtx, runSpan = cfg.spans.StartRunSpan(ec, "reviewflow", runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runChain(tracingCtx, ec, s, cg.entryPoint, END, &cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ec, runErr == nil, duration)
	cfg.metrics.RecordRunCost(ec, result.MetaFloat("cost"))

	if runErr != nil {
		observability.LogRunError(ec.Logger(), runID, runErr, float64(duration.Milliseconds()), result.CurrentStep)
		return result, runErr
	}

	observability.LogRunComplete(ec.Logger(), runID, float64(duration.Milliseconds()), nodeCount, result.MetaFloat("cost"))
	return result, nil
}

// runChain walks one sequential chain from `start` until it reaches
// `stop`. The main chain stops at END; fan-out branches stop at their
// join. Returns the state at the stop marker, the number of executed
// nodes, and any engine-level fault.
func (cg *CompiledGraph) runChain(
	tracingCtx context.Context,
	ec *executionContext,
	s state.State,
	start, stop string,
	cfg *runConfig,
) (state.State, int, error) {
	current := start
	iterations := 0
	nodeCount := 0
	attempts := make(map[string]int)
	retryTaken := make(map[string]int)

	for current != stop {
		iterations++
		if iterations > cfg.maxIterations {
			return s, nodeCount, &MaxIterationsError{Max: cfg.maxIterations, LastNodeID: current}
		}

		// Cancellation is checked between nodes; suspending nodes are
		// additionally expected to honor the context themselves.
		select {
		case <-ec.Done():
			return s, nodeCount, &CancellationError{NodeID: current, Cause: ec.Err()}
		default:
		}

		spec, exists := cg.getNode(current)
		if !exists {
			// Compile guarantees this; reaching it means the plan was
			// corrupted at runtime.
			return s, nodeCount, fmt.Errorf("plan inconsistency: node not found: %s", current)
		}

		attempts[current]++
		nodeCtx := ec.forNode(current, attempts[current])
		s = s.WithStep(current)

		if spec.successOnly && s.Failed() {
			observability.LogNodeSkipped(nodeCtx.Logger(), current, s.Err.Step)
		} else {
			nodeTracingCtx := tracingCtx
			var nodeSpan trace.Span
			if cfg.tracingEnabled {
				nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
			}

			observability.LogNodeStart(nodeCtx.Logger(), current)
			nodeStart := time.Now()

			s = cg.executeNode(nodeCtx, spec, s)

			// Commit staged cost/usage before routing so routers always
			// see up-to-date totals.
			s = s.CommitMetadata()

			nodeDuration := time.Since(nodeStart)
			var bizErr error
			if s.Failed() && s.Err.Step == current {
				bizErr = s.Err
			}
			cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, bizErr)
			if cfg.tracingEnabled {
				cfg.spans.EndSpanWithError(nodeSpan, bizErr)
			}

			if bizErr != nil {
				observability.LogNodeError(nodeCtx.Logger(), current, bizErr)
			} else {
				observability.LogNodeComplete(nodeCtx.Logger(), current, float64(nodeDuration.Milliseconds()))
			}
			nodeCount++
		}

		t, err := cg.resolve(nodeCtx, s, current)
		if err != nil {
			return s, nodeCount, err
		}

		switch t.kind {
		case transitionEnd:
			if stop != END {
				return s, nodeCount, fmt.Errorf("plan inconsistency: branch from %s reached END before join %s", start, stop)
			}
			return s, nodeCount, nil

		case transitionNext:
			if re, ok := cg.retries[current]; ok && re.to == t.to {
				retryTaken[current]++
				if retryTaken[current] > re.max {
					return s, nodeCount, &RetryExceededError{From: current, To: t.to, Max: re.max}
				}
			}
			current = t.to

		case transitionFanOut:
			merged, branchNodes, fanErr := cg.executeFanOut(tracingCtx, ec, t, s, cfg)
			nodeCount += branchNodes
			if fanErr != nil {
				return merged, nodeCount, fanErr
			}
			s = merged
			current = t.fan.join
		}
	}

	return s, nodeCount, nil
}

// executeNode invokes one node with panic recovery. Panics and returned
// errors both surface as a business failure on the state, naming the
// failing node; neither escapes past the executor.
func (cg *CompiledGraph) executeNode(ctx *executionContext, spec *nodeSpec, s state.State) (result state.State) {
	defer func() {
		if r := recover(); r != nil {
			result = s.WithError(spec.id, &PanicError{
				NodeID: spec.id,
				Value:  r,
				Stack:  string(debug.Stack()),
			})
		}
	}()

	out, err := spec.fn(ctx, s)
	if err != nil {
		// The returned state is discarded on an explicit error: partial
		// output from a failed node is not trustworthy, and building on
		// the input preserves the append-only guarantee.
		return s.WithError(spec.id, err)
	}
	return out
}
