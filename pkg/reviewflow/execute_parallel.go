package reviewflow

import (
	"context"
	"time"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/observability"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
	"go.opentelemetry.io/otel/trace"
)

// branchOutcome is the result of one fan-out branch: the state it carried
// to the join, how many nodes it ran, and any engine-level fault.
// A business failure rides inside the state, not in err.
type branchOutcome struct {
	branch string
	state  state.State
	nodes  int
	err    error
}

// executeFanOut runs the selected branches of a fan-out concurrently and
// produces the merged state the join node will receive.
//
// Every branch starts from its own deep copy of the pre-fan-out state, so
// no branch observes a sibling's in-flight writes. The join fires exactly
// once, after all branches have completed (success or business error):
// merged results follow branch declaration order, not completion order,
// and metadata counters are summed pointwise. An engine-level fault in any
// branch fails the whole fan-out, but only after every branch has been
// drained, so no outcome is silently dropped.
func (cg *CompiledGraph) executeFanOut(
	tracingCtx context.Context,
	ec *executionContext,
	t transition,
	base state.State,
	cfg *runConfig,
) (state.State, int, error) {
	fan := t.fan
	if len(t.selected) == 0 {
		// Empty selection: immediate join with no branch work.
		return base, 0, nil
	}

	startTime := time.Now()
	observability.LogFanOutStart(ec.Logger(), fan.from, fan.join, t.selected)
	cfg.metrics.RecordFanOut(ec, fan.from, len(t.selected))

	var sem chan struct{}
	if cfg.fanOutConcurrency > 0 {
		sem = make(chan struct{}, cfg.fanOutConcurrency)
	}

	results := make(chan branchOutcome, len(t.selected))
	for _, branch := range t.selected {
		go func(branch string) {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ec.Done():
					results <- branchOutcome{branch: branch, state: base, err: &CancellationError{NodeID: branch, Cause: ec.Err()}}
					return
				}
			}

			branchCtx := ec.forBranch(branch)
			branchTracingCtx := tracingCtx
			var branchSpan trace.Span
			if cfg.tracingEnabled {
				branchTracingCtx, branchSpan = cfg.spans.StartBranchSpan(tracingCtx, fan.from, branch)
			}

			s, nodes, err := cg.runChain(branchTracingCtx, branchCtx, base.Clone(), branch, fan.join, cfg)
			if cfg.tracingEnabled {
				cfg.spans.EndSpanWithError(branchSpan, err)
			}
			results <- branchOutcome{branch: branch, state: s, nodes: nodes, err: err}
		}(branch)
	}

	// Drain all branches. After cancellation, stragglers get a bounded
	// grace period; anything still running after that is treated as
	// failed and the run fails rather than hanging.
	outcomes := make(map[string]branchOutcome, len(t.selected))
	totalNodes := 0
	cancelC := ec.Done()
	var graceC <-chan time.Time

	for len(outcomes) < len(t.selected) {
		select {
		case r := <-results:
			outcomes[r.branch] = r
			totalNodes += r.nodes
		case <-cancelC:
			cancelC = nil
			graceC = time.After(cfg.branchGrace)
		case <-graceC:
			for _, branch := range t.selected {
				if _, done := outcomes[branch]; !done {
					observability.LogBranchAbandoned(ec.Logger(), fan.from, branch, cfg.branchGrace)
					return base, totalNodes, &FanOutError{
						FanNode: fan.from,
						Branch:  branch,
						Err:     &CancellationError{NodeID: branch, Cause: ec.Err(), WasExecuting: true},
					}
				}
			}
		}
	}

	// Engine-level faults win over merging; report the first failing
	// branch in declaration order for determinism.
	for _, branch := range t.selected {
		if r := outcomes[branch]; r.err != nil {
			return base, totalNodes, &FanOutError{FanNode: fan.from, Branch: branch, Err: r.err}
		}
	}

	branchStates := make([]state.State, len(t.selected))
	for i, branch := range t.selected {
		branchStates[i] = outcomes[branch].state
	}
	merged := state.MergeBranches(base, branchStates)

	observability.LogFanOutComplete(ec.Logger(), fan.from, fan.join, len(t.selected), float64(time.Since(startTime).Milliseconds()))
	return merged, totalNodes, nil
}
