package reviewflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// fanGraph builds the standard test fan-out: seed fans out across three
// branches that converge on a join.
//
//	seed -> {fast, slow, mid} -> join -> END
func fanGraph(t *testing.T, selector SelectFunc, branchNodes map[string]NodeFunc) *CompiledGraph {
	t.Helper()

	g := NewGraph().AddNode("seed", visit("seed")).AddNode("join", visit("join"))
	targets := []string{"fast", "slow", "mid"}
	for _, id := range targets {
		fn, ok := branchNodes[id]
		if !ok {
			fn = visit(id)
		}
		g.AddNode(id, fn).AddEdge(id, "join")
	}
	if selector == nil {
		selector = selectAll(targets...)
	}
	g.SetEntry("seed").
		AddFanOut("seed", selector, targets, "join").
		AddEdge("join", END)

	return mustCompile(t, g)
}

// delayed wraps a visit node with a sleep, to force completion order to
// differ from declaration order.
func delayed(id string, d time.Duration) NodeFunc {
	return func(ctx Context, s state.State) (state.State, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return s, ctx.Err()
		}
		return s.WithResult(state.Result{Step: id, Kind: "visit", Message: id}), nil
	}
}

// TestFanOut_MergeFollowsDeclarationOrder verifies merged results follow
// branch declaration order even when branches finish in reverse.
func TestFanOut_MergeFollowsDeclarationOrder(t *testing.T) {
	cg := fanGraph(t, nil, map[string]NodeFunc{
		"fast": delayed("fast", 60*time.Millisecond),
		"slow": delayed("slow", 30*time.Millisecond),
		"mid":  delayed("mid", 5*time.Millisecond),
	})

	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	assert.Equal(t, []string{"seed", "fast", "slow", "mid", "join"}, visited(final))
}

// TestFanOut_SelectorOrderDoesNotMatter verifies the selector's return
// order is normalized to declaration order before branches launch.
func TestFanOut_SelectorOrderDoesNotMatter(t *testing.T) {
	cg := fanGraph(t, selectAll("mid", "fast"), nil)

	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	assert.Equal(t, []string{"seed", "fast", "mid", "join"}, visited(final))
}

// TestFanOut_EmptySelection verifies an empty selection proceeds straight
// to the join with no branch work.
func TestFanOut_EmptySelection(t *testing.T) {
	cg := fanGraph(t, selectAll(), nil)

	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	assert.Equal(t, []string{"seed", "join"}, visited(final))
}

// TestFanOut_SelectorFaults verifies undeclared and duplicated selector
// output are runtime routing faults.
func TestFanOut_SelectorFaults(t *testing.T) {
	testCases := []struct {
		name     string
		selected []string
		sentinel error
	}{
		{"undeclared target", []string{"fast", "ghost"}, ErrUnknownTarget},
		{"duplicate target", []string{"fast", "fast"}, ErrDuplicateTarget},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cg := fanGraph(t, selectAll(tc.selected...), nil)

			_, err := cg.Run(testContext(t), testState())

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

// TestFanOut_BranchIsolation verifies each branch starts from its own copy
// of the pre-fan-out state and never observes a sibling's writes.
func TestFanOut_BranchIsolation(t *testing.T) {
	observedLens := make(chan int, 3)
	record := func(id string) NodeFunc {
		return func(ctx Context, s state.State) (state.State, error) {
			observedLens <- len(s.Results)
			return s.WithResult(state.Result{Step: id, Kind: "visit", Message: id}), nil
		}
	}

	cg := fanGraph(t, nil, map[string]NodeFunc{
		"fast": record("fast"),
		"slow": record("slow"),
		"mid":  record("mid"),
	})

	_, err := cg.Run(testContext(t), testState())
	require.NoError(t, err)

	close(observedLens)
	for n := range observedLens {
		assert.Equal(t, 1, n, "each branch must see only the seed result")
	}
}

// TestFanOut_MetadataSummedAcrossBranches verifies counters contributed in
// parallel branches are added pointwise, not overwritten.
func TestFanOut_MetadataSummedAcrossBranches(t *testing.T) {
	spend := func(id string, amount float64) NodeFunc {
		return func(ctx Context, s state.State) (state.State, error) {
			return s.AddCost(amount).AddUsage(10, 5), nil
		}
	}

	cg := fanGraph(t, nil, map[string]NodeFunc{
		"fast": spend("fast", 0.01),
		"slow": spend("slow", 0.02),
		"mid":  spend("mid", 0.04),
	})

	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	assert.InDelta(t, 0.07, final.MetaFloat("cost"), 1e-9)
	assert.Equal(t, float64(30), final.MetaFloat("tokens_in"))
	assert.Equal(t, float64(3), final.MetaFloat("api_calls"))
}

// TestFanOut_BusinessFailureStillJoins verifies a branch's business
// failure does not cancel its siblings: all branches finish, the join
// runs, and the merged state carries the failure.
func TestFanOut_BusinessFailureStillJoins(t *testing.T) {
	cg := fanGraph(t, nil, map[string]NodeFunc{
		"slow": failWith("slow branch broke"),
	})

	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	require.True(t, final.Failed())
	assert.Equal(t, "slow", final.Err.Step)
	assert.Equal(t, []string{"seed", "fast", "mid", "join"}, visited(final),
		"healthy branches and the join still run")
}

// TestFanOut_EngineFaultFailsFanOut verifies an engine-level fault inside
// a branch fails the whole fan-out after every branch drained.
func TestFanOut_EngineFaultFailsFanOut(t *testing.T) {
	finished := make(chan string, 2)
	note := func(id string) NodeFunc {
		return func(ctx Context, s state.State) (state.State, error) {
			finished <- id
			return s, nil
		}
	}

	// A branch whose conditional router returns an unmapped label is an
	// engine fault, not a business failure.
	g := NewGraph().
		AddNode("seed", visit("seed")).
		AddNode("bad", visit("bad")).
		AddNode("bad2", visit("bad2")).
		AddNode("ok1", note("ok1")).
		AddNode("ok2", note("ok2")).
		AddNode("join", visit("join")).
		SetEntry("seed").
		AddFanOut("seed", selectAll("bad", "ok1", "ok2"), []string{"bad", "ok1", "ok2"}, "join").
		AddConditionalEdge("bad", routeConst("sideways"), map[string]string{"on": "bad2"}).
		AddEdge("bad2", "join").
		AddEdge("ok1", "join").
		AddEdge("ok2", "join").
		AddEdge("join", END)

	cg := mustCompile(t, g)
	_, err := cg.Run(testContext(t), testState())

	var fe *FanOutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "seed", fe.FanNode)
	assert.Equal(t, "bad", fe.Branch)
	assert.ErrorIs(t, err, ErrUnknownLabel)

	close(finished)
	var done []string
	for id := range finished {
		done = append(done, id)
	}
	assert.Len(t, done, 2, "sibling branches must be drained before the fault is reported")
}

// TestFanOut_ConcurrencyLimit verifies the semaphore caps simultaneous
// branch execution.
func TestFanOut_ConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	track := func(id string) NodeFunc {
		return func(ctx Context, s state.State) (state.State, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return s, nil
		}
	}

	cg := fanGraph(t, nil, map[string]NodeFunc{
		"fast": track("fast"),
		"slow": track("slow"),
		"mid":  track("mid"),
	})

	_, err := cg.Run(testContext(t), testState(), WithFanOutConcurrency(1))

	require.NoError(t, err)
	assert.Equal(t, 1, maxInFlight)
}

// TestFanOut_CancellationDoesNotHang verifies a canceled run abandons
// stuck branches after the grace period instead of blocking forever.
func TestFanOut_CancellationDoesNotHang(t *testing.T) {
	baseCtx, cancel := context.WithCancel(context.Background())

	stuck := func(ctx Context, s state.State) (state.State, error) {
		// Ignores cancellation on purpose.
		time.Sleep(2 * time.Second)
		return s, nil
	}

	cg := fanGraph(t, nil, map[string]NodeFunc{
		"slow": stuck,
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := cg.Run(NewContext(baseCtx), testState(), WithBranchGracePeriod(50*time.Millisecond))

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "run must not wait for the stuck branch")

	var fe *FanOutError
	require.ErrorAs(t, err, &fe)
	var ce *CancellationError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.WasExecuting)
}

// TestFanOut_NestedChainBranches verifies a branch can be a multi-node
// chain, with every node's output reaching the merge.
func TestFanOut_NestedChainBranches(t *testing.T) {
	g := NewGraph().
		AddNode("seed", visit("seed")).
		AddNode("a1", visit("a1")).
		AddNode("a2", visit("a2")).
		AddNode("b1", visit("b1")).
		AddNode("join", visit("join")).
		SetEntry("seed").
		AddFanOut("seed", selectAll("a1", "b1"), []string{"a1", "b1"}, "join").
		AddEdge("a1", "a2").
		AddEdge("a2", "join").
		AddEdge("b1", "join").
		AddEdge("join", END)

	cg := mustCompile(t, g)
	final, err := cg.Run(testContext(t), testState())

	require.NoError(t, err)
	assert.Equal(t, []string{"seed", "a1", "a2", "b1", "join"}, visited(final))
}
