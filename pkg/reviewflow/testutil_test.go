package reviewflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// testContext builds an execution context with a discarded logger so test
// output stays readable.
func testContext(t *testing.T) Context {
	t.Helper()
	return NewContext(context.Background(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// testState builds a minimal initial state.
func testState() state.State {
	return state.New(state.Context{Repo: "acme/widgets", PullRequest: 7})
}

// visit returns a node that records its own ID as a result, so tests can
// assert on execution order.
func visit(id string) NodeFunc {
	return func(ctx Context, s state.State) (state.State, error) {
		return s.WithResult(state.Result{Step: id, Kind: "visit", Message: id}), nil
	}
}

// visited extracts the ordered node IDs recorded by visit nodes.
func visited(s state.State) []string {
	var out []string
	for _, r := range s.Results {
		if r.Kind == "visit" {
			out = append(out, r.Message)
		}
	}
	return out
}

// failWith returns a node that reports a business failure.
func failWith(msg string) NodeFunc {
	return func(ctx Context, s state.State) (state.State, error) {
		return s, errors.New(msg)
	}
}

// routeConst returns a router that always picks the given label.
func routeConst(label string) RouterFunc {
	return func(ctx Context, s state.State) string {
		return label
	}
}

// selectAll returns a selector that picks every given target.
func selectAll(targets ...string) SelectFunc {
	return func(ctx Context, s state.State) []string {
		return targets
	}
}

// mustCompile compiles the graph and fails the test on error.
func mustCompile(t *testing.T, g *Graph) *CompiledGraph {
	t.Helper()
	cg, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return cg
}
