/*
Package reviewflow provides graph-based orchestration for multi-step,
AI-assisted review of code changes.

# Overview

reviewflow compiles a declared directed graph of named steps into an
immutable, reusable plan and executes it against an immutable state value.
It is built for review bots: a repository event or chat command triggers a
run, the run walks analysis/fix/verification steps with deterministic
ordering, and the caller gets back a final state carrying findings,
accumulated cost, and any failure.

Key properties:
  - State is never mutated in place; every node returns a new value
  - Node failures are recorded in the state and routed, not thrown
  - Fan-out branches run concurrently but join deterministically, in
    declaration order
  - Engine faults (bad routing label, retry bound exceeded, cancellation)
    are returned as errors, distinct from node-level failures
  - OpenTelemetry metrics and tracing, slog logging

# Basic Usage

	func scan(ctx reviewflow.Context, s state.State) (state.State, error) {
	    findings := analyze(s.Context.Inputs["diff"])
	    return s.WithResults(findings...).AddCost(0.01), nil
	}

	graph := reviewflow.NewGraph().
	    AddNode("scan", scan, reviewflow.Suspending()).
	    AddNode("report", report).
	    AddEdge("scan", "report").
	    AddEdge("report", reviewflow.END).
	    SetEntry("scan")

	plan, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := reviewflow.NewContext(context.Background())
	final, err := plan.Run(ctx, state.New(state.Context{Repo: "org/repo", PullRequest: 42}))

# Conditional Branching

A conditional edge pairs a routing function with an explicit label map.
The router returns a label; a label with no mapping fails the run rather
than silently picking a default:

	graph.AddConditionalEdge("scan", route, map[string]string{
	    "found": "fix",
	    "clean": reviewflow.END,
	})

# Fan-out and Join

A fan-out runs several branches concurrently, each from its own copy of
the pre-fan-out state, reconverging at a single declared join node. The
join receives the branch results concatenated in declaration order and
metadata counters summed pointwise, so output is reproducible no matter
which branch finishes first:

	graph.AddFanOut("fix", selectChecks, []string{"lint", "test", "build"}, "collect")

# Retry Loops

The graph must be acyclic except for declared, bounded retry edges. The
executor counts traversals and fails the run once the bound is exceeded:

	graph.AddConditionalEdge("verify", verdict, map[string]string{
	    "ok":    "report",
	    "retry": "fix",
	}).AddRetryEdge("verify", "fix", 3)
*/
package reviewflow
