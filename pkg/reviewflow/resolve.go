package reviewflow

import (
	"fmt"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// transitionKind classifies what the edge resolver decided.
type transitionKind int

const (
	// transitionEnd means the run reached the terminal marker.
	transitionEnd transitionKind = iota
	// transitionNext means a single next node.
	transitionNext
	// transitionFanOut means parallel branches followed by a join.
	transitionFanOut
)

// transition is the edge resolver's answer for one node.
type transition struct {
	kind transitionKind

	// to is the next node for transitionNext.
	to string

	// fan and selected describe a transitionFanOut: the declared fan-out
	// plus the selector's chosen branch entries in declaration order.
	fan      *fanOutEdge
	selected []string
}

// resolve determines where execution goes after `current` produced state s.
// Routing functions see the state with metadata already committed.
//
// Errors returned here are engine-level faults: an unmapped or empty
// routing label, a selector picking an undeclared or duplicated target, or
// a node with no outgoing declaration (a plan inconsistency that compile
// should have caught).
func (cg *CompiledGraph) resolve(ctx Context, s state.State, current string) (transition, error) {
	if fan, ok := cg.fanOuts[current]; ok {
		selected, err := cg.selectBranches(ctx, s, fan)
		if err != nil {
			return transition{}, err
		}
		return transition{kind: transitionFanOut, fan: fan, selected: selected}, nil
	}

	if ce, ok := cg.cond[current]; ok {
		label := ce.router(ctx, s)
		if label == "" {
			return transition{}, &RoutingError{FromNode: current, Label: label, Err: ErrEmptyLabel}
		}
		to, mapped := ce.routes[label]
		if !mapped {
			return transition{}, &RoutingError{FromNode: current, Label: label, Err: ErrUnknownLabel}
		}
		if to == END {
			return transition{kind: transitionEnd}, nil
		}
		return transition{kind: transitionNext, to: to}, nil
	}

	if to, ok := cg.edges[current]; ok {
		if to == END {
			return transition{kind: transitionEnd}, nil
		}
		return transition{kind: transitionNext, to: to}, nil
	}

	return transition{}, fmt.Errorf("no outgoing edge from node %s", current)
}

// selectBranches runs the fan-out selector and validates its choice
// against the declared targets. The returned slice follows declaration
// order regardless of the order the selector returned, which is what
// makes the later join merge deterministic.
func (cg *CompiledGraph) selectBranches(ctx Context, s state.State, fan *fanOutEdge) ([]string, error) {
	chosen := fan.selector(ctx, s)

	want := make(map[string]bool, len(chosen))
	for _, target := range chosen {
		if want[target] {
			return nil, &RoutingError{FromNode: fan.from, Label: target, Err: ErrDuplicateTarget}
		}
		declared := false
		for _, t := range fan.targets {
			if t == target {
				declared = true
				break
			}
		}
		if !declared {
			return nil, &RoutingError{FromNode: fan.from, Label: target, Err: ErrUnknownTarget}
		}
		want[target] = true
	}

	selected := make([]string, 0, len(want))
	for _, target := range fan.targets {
		if want[target] {
			selected = append(selected, target)
		}
	}
	return selected, nil
}
