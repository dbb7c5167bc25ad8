package reviewflow

// CompiledGraph is the validated, immutable, executable plan produced by
// Compile(). It is safe to share across concurrent Run() calls; the
// structure cannot change after compilation.
type CompiledGraph struct {
	nodes      map[string]*nodeSpec
	edges      map[string]string
	cond       map[string]*conditionalEdge
	fanOuts    map[string]*fanOutEdge
	joins      map[string]string // join node -> owning fan-out source
	retries    map[string]*retryEdge
	entryPoint string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers, sorted.
func (cg *CompiledGraph) NodeIDs() []string {
	return sortedKeys(cg.nodes)
}

// HasNode checks whether a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// IsSuspending reports whether the node was registered as I/O-bound.
func (cg *CompiledGraph) IsSuspending(id string) bool {
	spec, exists := cg.nodes[id]
	return exists && spec.suspending
}

// IsSuccessOnly reports whether the node is skipped on error states.
func (cg *CompiledGraph) IsSuccessOnly(id string) bool {
	spec, exists := cg.nodes[id]
	return exists && spec.successOnly
}

// IsConditional reports whether the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, exists := cg.cond[id]
	return exists
}

// IsFanOut reports whether the node fans out into parallel branches.
func (cg *CompiledGraph) IsFanOut(id string) bool {
	_, exists := cg.fanOuts[id]
	return exists
}

// IsJoin reports whether the node is the join of a declared fan-out.
func (cg *CompiledGraph) IsJoin(id string) bool {
	_, exists := cg.joins[id]
	return exists
}

// JoinOf returns the join node for a fan-out source, or "" if the node is
// not a fan-out.
func (cg *CompiledGraph) JoinOf(id string) string {
	if fan, exists := cg.fanOuts[id]; exists {
		return fan.join
	}
	return ""
}

// FanOutTargets returns the declared branch entries of a fan-out source,
// in declaration order, or nil if the node is not a fan-out.
func (cg *CompiledGraph) FanOutTargets(id string) []string {
	fan, exists := cg.fanOuts[id]
	if !exists {
		return nil
	}
	return append([]string(nil), fan.targets...)
}

// Routes returns the label -> target mapping of a conditional edge, or nil
// if the node has none.
func (cg *CompiledGraph) Routes(id string) map[string]string {
	ce, exists := cg.cond[id]
	if !exists {
		return nil
	}
	out := make(map[string]string, len(ce.routes))
	for label, to := range ce.routes {
		out[label] = to
	}
	return out
}

// getNode returns the node spec for the given ID.
func (cg *CompiledGraph) getNode(id string) (*nodeSpec, bool) {
	spec, exists := cg.nodes[id]
	return spec, exists
}
