package reviewflow

import (
	"fmt"
	"strings"
	"sync"
)

// conditionalEdge is a declared conditional transition: a routing function
// plus the label -> target mapping it must stay within.
type conditionalEdge struct {
	router RouterFunc
	routes map[string]string
}

// fanOutEdge is a declared fan-out: a selector choosing among the declared
// targets, all of which reconverge at the single join node.
type fanOutEdge struct {
	from     string
	selector SelectFunc
	targets  []string
	join     string
}

// retryEdge bounds the one sanctioned kind of cycle. The bound is enforced
// by the executor; the compiler only exempts the edge from cycle detection.
type retryEdge struct {
	to  string
	max int
}

// Graph is a mutable builder for workflow graphs. Construct it on a single
// goroutine, then Compile() into an immutable CompiledGraph that can be
// shared across concurrent executions.
//
// Example:
//
//	graph := reviewflow.NewGraph().
//	    AddNode("scan", scan, reviewflow.Suspending()).
//	    AddNode("fix", fix, reviewflow.SuccessOnly()).
//	    AddConditionalEdge("scan", route, map[string]string{
//	        "found": "fix",
//	        "clean": reviewflow.END,
//	    }).
//	    AddEdge("fix", reviewflow.END).
//	    SetEntry("scan")
//
//	plan, err := graph.Compile()
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]*nodeSpec
	edges      map[string]string
	cond       map[string]*conditionalEdge
	fanOuts    map[string]*fanOutEdge
	retries    map[string]*retryEdge
	entryPoint string
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*nodeSpec),
		edges:   make(map[string]string),
		cond:    make(map[string]*conditionalEdge),
		fanOuts: make(map[string]*fanOutEdge),
		retries: make(map[string]*retryEdge),
	}
}

// AddNode registers a named node. Returns the graph for chaining.
//
// Panics on programmer error:
//   - id is empty, reserved ("END", "__end__"), or contains whitespace
//   - fn is nil
//   - id is already registered
func (g *Graph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *Graph {
	if id == "" {
		panic("reviewflow: node ID cannot be empty")
	}

	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == END {
		panic("reviewflow: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("reviewflow: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("reviewflow: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("reviewflow: duplicate node ID: %s", id))
	}

	spec := &nodeSpec{id: id, fn: fn}
	for _, opt := range opts {
		opt(spec)
	}

	g.nodes[id] = spec
	return g
}

// AddEdge declares an unconditional transition. The target can be a node
// ID or END. Endpoint validation happens at Compile() time.
//
// Panics if the source already has an outgoing declaration; a node has
// exactly one of: an unconditional edge, a conditional edge, or a fan-out.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureNoOutgoing(from)
	g.edges[from] = to
	return g
}

// AddConditionalEdge declares a conditional transition: after `from` runs,
// router inspects the state and returns a label, which must be a key of
// routes. Route targets can be node IDs or END.
//
// A label the router can return without a mapping is a fatal RoutingError
// at runtime; there is deliberately no default branch.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, routes map[string]string) *Graph {
	if router == nil {
		panic("reviewflow: router function cannot be nil")
	}
	if len(routes) == 0 {
		panic("reviewflow: conditional edge needs at least one route")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureNoOutgoing(from)

	copied := make(map[string]string, len(routes))
	for label, to := range routes {
		copied[label] = to
	}
	g.cond[from] = &conditionalEdge{router: router, routes: copied}
	return g
}

// AddFanOut declares a fan-out: after `from` runs, selector picks a subset
// of targets and all chosen branches run concurrently, each from its own
// copy of the pre-fan-out state, reconverging at join. The compiler
// verifies every target reaches join and that join belongs to exactly one
// fan-out.
func (g *Graph) AddFanOut(from string, selector SelectFunc, targets []string, join string) *Graph {
	if selector == nil {
		panic("reviewflow: fan-out selector cannot be nil")
	}
	if len(targets) == 0 {
		panic("reviewflow: fan-out needs at least one target")
	}
	if join == "" {
		panic("reviewflow: fan-out join cannot be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureNoOutgoing(from)

	g.fanOuts[from] = &fanOutEdge{
		from:     from,
		selector: selector,
		targets:  append([]string(nil), targets...),
		join:     join,
	}
	return g
}

// AddRetryEdge marks the declared transition from -> to as a bounded retry
// loop. It is the only cycle the compiler accepts; the executor counts
// traversals and fails the run once max is exceeded.
//
// The transition itself must still be declared, normally as a conditional
// route (e.g. a "retry" label pointing back at an earlier node).
func (g *Graph) AddRetryEdge(from, to string, max int) *Graph {
	if max <= 0 {
		panic("reviewflow: retry edge bound must be positive")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.retries[from] = &retryEdge{to: to, max: max}
	return g
}

// SetEntry designates the entry point node. Must be called before
// Compile(); validated there.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}

// ensureNoOutgoing panics if `from` already declares an outgoing edge of
// any kind. Caller holds the lock.
func (g *Graph) ensureNoOutgoing(from string) {
	_, hasEdge := g.edges[from]
	_, hasCond := g.cond[from]
	_, hasFan := g.fanOuts[from]
	if hasEdge || hasCond || hasFan {
		panic(fmt.Sprintf("reviewflow: node %s already has an outgoing edge", from))
	}
}
