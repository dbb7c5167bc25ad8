package reviewflow

import (
	"errors"
	"fmt"
	"sort"
)

// Compile validates the graph and produces an immutable CompiledGraph.
// Validation failures are joined, so one pass reports everything wrong.
//
// Checks, in order:
//  1. Entry point is set and references a registered node
//  2. Every edge endpoint references a registered node or END
//  3. Every conditional route target references a registered node or END
//  4. Fan-out targets are registered, unique, and distinct from the join;
//     the join is registered and claimed by exactly one fan-out; every
//     target has a path to the join
//  5. Retry annotations match a declared transition
//  6. The graph is acyclic except for declared retry edges
//  7. A path from the entry to END exists
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	errs = append(errs, g.validateEndpoints()...)
	errs = append(errs, g.validateFanOuts()...)
	errs = append(errs, g.validateRetries()...)

	if len(errs) == 0 {
		// Structural analysis only makes sense on a well-referenced graph.
		errs = append(errs, g.validateAcyclic()...)

		if g.entryPoint != "" && !g.hasPathToEnd() {
			errs = append(errs, ErrNoPathToEnd)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

// validateEndpoints checks that every declared transition references
// registered nodes (or END as a target).
func (g *Graph) validateEndpoints() []error {
	var errs []error

	check := func(kind, id string, allowEnd bool) {
		if allowEnd && id == END {
			return
		}
		if _, exists := g.nodes[id]; !exists {
			errs = append(errs, fmt.Errorf("%w: %s '%s' does not exist", ErrNodeNotFound, kind, id))
		}
	}

	for _, from := range sortedKeys(g.edges) {
		check("edge source", from, false)
		check("edge target", g.edges[from], true)
	}

	for _, from := range sortedKeys(g.cond) {
		check("conditional edge source", from, false)
		ce := g.cond[from]
		for _, label := range sortedKeys(ce.routes) {
			check(fmt.Sprintf("route %q target", label), ce.routes[label], true)
		}
	}

	for _, from := range sortedKeys(g.fanOuts) {
		check("fan-out source", from, false)
		fan := g.fanOuts[from]
		for _, target := range fan.targets {
			check("fan-out target", target, false)
		}
		check("fan-out join", fan.join, false)
	}

	return errs
}

// validateFanOuts enforces the fan-out structural rules: unique targets,
// one fan-out per join, and every target converging on the join.
func (g *Graph) validateFanOuts() []error {
	var errs []error
	joinOwners := make(map[string]string)

	for _, from := range sortedKeys(g.fanOuts) {
		fan := g.fanOuts[from]

		seen := make(map[string]bool, len(fan.targets))
		for _, target := range fan.targets {
			if seen[target] {
				errs = append(errs, fmt.Errorf("%w: fan-out %s declares %s twice", ErrDuplicateTarget, from, target))
			}
			seen[target] = true

			if target == fan.join {
				errs = append(errs, fmt.Errorf("%w: fan-out %s target %s is its own join", ErrNoJoin, from, target))
			}
		}

		if owner, claimed := joinOwners[fan.join]; claimed {
			errs = append(errs, fmt.Errorf("%w: join %s claimed by fan-outs %s and %s", ErrJoinConflict, fan.join, owner, from))
		} else {
			joinOwners[fan.join] = from
		}

		// Convergence: every branch must be able to reach the join.
		for _, target := range fan.targets {
			if target == fan.join {
				continue
			}
			if _, exists := g.nodes[target]; !exists {
				continue // already reported by validateEndpoints
			}
			if !g.reaches(target, fan.join) {
				errs = append(errs, fmt.Errorf("%w: fan-out %s target %s has no path to join %s", ErrNoJoin, from, target, fan.join))
			}
		}
	}

	return errs
}

// validateRetries checks each retry annotation corresponds to a declared
// transition out of its source node.
func (g *Graph) validateRetries() []error {
	var errs []error

	for _, from := range sortedKeys(g.retries) {
		re := g.retries[from]
		if g.edges[from] == re.to {
			continue
		}
		if ce, ok := g.cond[from]; ok {
			declared := false
			for _, to := range ce.routes {
				if to == re.to {
					declared = true
					break
				}
			}
			if declared {
				continue
			}
		}
		errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrRetryEdgeUndeclared, from, re.to))
	}

	return errs
}

// validateAcyclic rejects any cycle not covered by a retry annotation.
func (g *Graph) validateAcyclic() []error {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(g.nodes))

	var errs []error
	var visit func(id string)
	visit = func(id string) {
		color[id] = visiting
		for _, next := range g.successorsExceptRetries(id) {
			switch color[next] {
			case visiting:
				errs = append(errs, fmt.Errorf("%w: through %s -> %s", ErrCycle, id, next))
			case unvisited:
				visit(next)
			}
		}
		color[id] = done
	}

	for _, id := range sortedKeys(g.nodes) {
		if color[id] == unvisited {
			visit(id)
		}
	}

	return errs
}

// successorsExceptRetries lists the nodes execution can move to from id,
// skipping transitions annotated as retry edges. Fan-out successors are
// the branch entries plus the join (an empty selection goes straight to
// the join).
func (g *Graph) successorsExceptRetries(id string) []string {
	retryTo := ""
	if re, ok := g.retries[id]; ok {
		retryTo = re.to
	}

	var out []string
	appendTo := func(to string) {
		if to != END && to != retryTo {
			out = append(out, to)
		}
	}

	if to, ok := g.edges[id]; ok {
		appendTo(to)
	}
	if ce, ok := g.cond[id]; ok {
		for _, label := range sortedKeys(ce.routes) {
			appendTo(ce.routes[label])
		}
	}
	if fan, ok := g.fanOuts[id]; ok {
		for _, target := range fan.targets {
			appendTo(target)
		}
		appendTo(fan.join)
	}
	return out
}

// successors lists every node execution can move to from id, including
// retry transitions.
func (g *Graph) successors(id string) []string {
	var out []string
	if to, ok := g.edges[id]; ok && to != END {
		out = append(out, to)
	}
	if ce, ok := g.cond[id]; ok {
		for _, label := range sortedKeys(ce.routes) {
			if to := ce.routes[label]; to != END {
				out = append(out, to)
			}
		}
	}
	if fan, ok := g.fanOuts[id]; ok {
		out = append(out, fan.targets...)
		out = append(out, fan.join)
	}
	return out
}

// reaches reports whether `to` is reachable from `from` following declared
// transitions. Traversal through a nested fan-out continues at its join.
func (g *Graph) reaches(from, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			return true
		}
		for _, next := range g.successors(current) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// hasPathToEnd reports whether END is reachable from the entry point.
func (g *Graph) hasPathToEnd() bool {
	if _, exists := g.nodes[g.entryPoint]; !exists {
		return false
	}

	visited := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if g.edges[current] == END {
			return true
		}
		if ce, ok := g.cond[current]; ok {
			for _, target := range ce.routes {
				if target == END {
					return true
				}
			}
		}
		for _, next := range g.successors(current) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// buildCompiledGraph deep-copies the builder's declarations into the
// immutable executable form.
func (g *Graph) buildCompiledGraph() *CompiledGraph {
	nodes := make(map[string]*nodeSpec, len(g.nodes))
	for id, spec := range g.nodes {
		copied := *spec
		nodes[id] = &copied
	}

	edges := make(map[string]string, len(g.edges))
	for from, to := range g.edges {
		edges[from] = to
	}

	cond := make(map[string]*conditionalEdge, len(g.cond))
	for from, ce := range g.cond {
		routes := make(map[string]string, len(ce.routes))
		for label, to := range ce.routes {
			routes[label] = to
		}
		cond[from] = &conditionalEdge{router: ce.router, routes: routes}
	}

	fanOuts := make(map[string]*fanOutEdge, len(g.fanOuts))
	joins := make(map[string]string, len(g.fanOuts))
	for from, fan := range g.fanOuts {
		fanOuts[from] = &fanOutEdge{
			from:     from,
			selector: fan.selector,
			targets:  append([]string(nil), fan.targets...),
			join:     fan.join,
		}
		joins[fan.join] = from
	}

	retries := make(map[string]*retryEdge, len(g.retries))
	for from, re := range g.retries {
		copied := *re
		retries[from] = &copied
	}

	return &CompiledGraph{
		nodes:      nodes,
		edges:      edges,
		cond:       cond,
		fanOuts:    fanOuts,
		joins:      joins,
		retries:    retries,
		entryPoint: g.entryPoint,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
