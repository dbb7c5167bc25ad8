// Package state defines the immutable state value threaded through a
// workflow execution.
//
// A State is never mutated in place. Every operation returns a new value,
// and the executor hands each parallel branch its own deep copy, so nodes
// can be written without any locking. Node authors follow two rules:
//
//   - return a new State built with the With* helpers, never modify the
//     one you received
//   - record cost/usage with Contribute; counters are merged by addition
//     and never overwritten
package state

import (
	"fmt"
	"reflect"
)

// Context holds the input facts for one execution. It is set once when the
// state is created and must not change for the lifetime of the run.
type Context struct {
	// Repo is the repository identifier, e.g. "org/name".
	Repo string `json:"repo"`

	// PullRequest is the change-request number the run is about.
	PullRequest int `json:"pull_request"`

	// Installation is the authorization reference used by hosting API calls.
	Installation string `json:"installation"`

	// Command is the chat command that triggered the run (may be empty for
	// event-triggered runs).
	Command string `json:"command,omitempty"`

	// Args are the arguments given with the command.
	Args []string `json:"args,omitempty"`

	// Inputs carries step-specific input payload (diff hunks, file lists).
	Inputs map[string]string `json:"inputs,omitempty"`

	// SeenFiles is review history loaded by the caller before the run
	// starts, e.g. to review only files not seen before.
	SeenFiles []string `json:"seen_files,omitempty"`

	// Snapshots holds content captured before a risky node runs. A
	// dedicated rollback node restores from here; the engine never does.
	Snapshots map[string]string `json:"snapshots,omitempty"`
}

// Result is a single finding or output record produced by a node.
type Result struct {
	Step     string         `json:"step"`
	Kind     string         `json:"kind"`
	Severity string         `json:"severity,omitempty"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// StepError is a business failure reported by a node. It marks the state,
// it does not abort the run: routing decides what happens next, and nodes
// registered as success-only are skipped.
type StepError struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s", e.Step, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Wrapped
}

// State is the value threaded through an execution. It is passed by value;
// all update helpers return a new State and copy the containers they touch,
// so an older State never observes a later change.
type State struct {
	// Context is fixed at creation.
	Context Context `json:"context"`

	// Results is the ordered, append-only sequence of findings.
	Results []Result `json:"results,omitempty"`

	// CurrentStep names the last completed or currently executing node.
	CurrentStep string `json:"current_step,omitempty"`

	// Err is the business failure slot. Nil means the run is healthy.
	Err *StepError `json:"error,omitempty"`

	// Metadata holds accumulated counters (cost, tokens, call counts) and
	// free-form auxiliary fields. Numeric fields only grow; they are merged
	// by addition via MergeMetadata, never overwritten.
	Metadata map[string]any `json:"metadata,omitempty"`

	// contrib is the staged metadata contribution of the node currently
	// running. The executor commits it after the node returns, before
	// routing, so routers always see up-to-date totals.
	contrib map[string]any
}

// New creates a fresh State for the given context. The context's maps and
// slices are copied so the caller's event data cannot leak mutations in.
func New(ctx Context) State {
	return State{
		Context:  cloneContext(ctx),
		Metadata: map[string]any{},
	}
}

// WithResult returns a new State with r appended to Results.
func (s State) WithResult(r Result) State {
	return s.WithResults(r)
}

// WithResults returns a new State with all given results appended in order.
func (s State) WithResults(rs ...Result) State {
	out := make([]Result, len(s.Results), len(s.Results)+len(rs))
	copy(out, s.Results)
	s.Results = append(out, rs...)
	return s
}

// WithStep returns a new State with CurrentStep set.
func (s State) WithStep(step string) State {
	s.CurrentStep = step
	return s
}

// WithError returns a new State carrying a business failure for the given
// step. The original error is retained for errors.Is/As.
func (s State) WithError(step string, err error) State {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.Err = &StepError{Step: step, Message: msg, Wrapped: err}
	return s
}

// WithErrorf is WithError with a formatted message and no wrapped cause.
func (s State) WithErrorf(step, format string, args ...any) State {
	s.Err = &StepError{Step: step, Message: fmt.Sprintf(format, args...)}
	return s
}

// Failed reports whether a business failure has been recorded.
func (s State) Failed() bool {
	return s.Err != nil
}

// Contribute returns a new State with the given metadata contribution
// staged. Numeric fields from multiple Contribute calls within one node
// accumulate; the executor folds the staged total into Metadata after the
// node returns.
func (s State) Contribute(m map[string]any) State {
	s.contrib = MergeMetadata(s.contrib, m)
	return s
}

// AddCost stages a cost contribution, in account currency units.
func (s State) AddCost(cost float64) State {
	return s.Contribute(map[string]any{"cost": cost})
}

// AddUsage stages token usage and one API call.
func (s State) AddUsage(tokensIn, tokensOut int) State {
	return s.Contribute(map[string]any{
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
		"api_calls":  1,
	})
}

// CommitMetadata folds the staged contribution into Metadata and clears
// the staging slot. The executor calls this after every node, before the
// next routing decision.
func (s State) CommitMetadata() State {
	if len(s.contrib) == 0 {
		return s
	}
	s.Metadata = MergeMetadata(s.Metadata, s.contrib)
	s.contrib = nil
	return s
}

// PendingContribution returns a copy of the staged, uncommitted metadata.
func (s State) PendingContribution() map[string]any {
	return cloneMeta(s.contrib)
}

// MetaFloat returns the named metadata field as a float64, treating
// missing or non-numeric values as zero. Integer counters are widened.
func (s State) MetaFloat(key string) float64 {
	f, _ := asFloat(s.Metadata[key])
	return f
}

// MetaString returns the named metadata field as a string, or "" if the
// field is missing or not a string.
func (s State) MetaString(key string) string {
	v, _ := s.Metadata[key].(string)
	return v
}

// Clone returns a deep copy of the state. The executor uses this to hand
// each fan-out branch an isolated value; branches never share containers.
func (s State) Clone() State {
	out := s
	out.Context = cloneContext(s.Context)
	out.Metadata = cloneMeta(s.Metadata)
	out.contrib = cloneMeta(s.contrib)
	out.Results = make([]Result, len(s.Results))
	for i, r := range s.Results {
		out.Results[i] = r
		out.Results[i].Data = cloneMeta(r.Data)
	}
	if s.Err != nil {
		e := *s.Err
		out.Err = &e
	}
	return out
}

// MergeMetadata is the pure accumulator merge: numeric fields in
// contribution are added to the matching field in existing (absent fields
// default to zero); non-numeric fields overwrite, last write wins. Neither
// input is modified.
func MergeMetadata(existing, contribution map[string]any) map[string]any {
	out := cloneMeta(existing)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range contribution {
		add, numeric := asFloat(v)
		if !numeric {
			out[k] = v
			continue
		}
		cur, _ := asFloat(out[k])
		out[k] = storeNumeric(out[k], v, cur+add)
	}
	return out
}

// MergeBranches combines the outcomes of concurrently executed fan-out
// branches into a single state for the join node. Each branch state must
// descend from base. The merged Results are base's results followed by
// each branch's new entries in the order branches are passed (declaration
// order), never completion order. Numeric metadata is base plus the
// pointwise sum of every branch's delta over base. The first branch (in
// declaration order) carrying a business failure supplies the merged Err.
func MergeBranches(base State, branches []State) State {
	merged := base.Clone()
	for _, b := range branches {
		if len(b.Results) > len(base.Results) {
			merged = merged.WithResults(b.Results[len(base.Results):]...)
		}
		merged.Metadata = MergeMetadata(merged.Metadata, metadataDelta(base.Metadata, b.Metadata))
		if merged.Err == nil && b.Err != nil {
			e := *b.Err
			merged.Err = &e
		}
	}
	return merged
}

// metadataDelta computes the contribution a branch made on top of base:
// numeric fields become branch-base differences, non-numeric fields are
// carried when they differ from base. Comparison is by deep equality;
// metadata routinely holds slices and maps, which cannot go through ==.
func metadataDelta(base, branch map[string]any) map[string]any {
	delta := map[string]any{}
	for k, v := range branch {
		bv, inBase := base[k]
		add, numeric := asFloat(v)
		if numeric {
			baseVal, _ := asFloat(bv)
			if d := add - baseVal; d != 0 {
				delta[k] = storeNumeric(v, v, d)
			}
			continue
		}
		if !inBase || !reflect.DeepEqual(bv, v) {
			delta[k] = v
		}
	}
	return delta
}

func cloneContext(ctx Context) Context {
	out := ctx
	out.Args = append([]string(nil), ctx.Args...)
	out.SeenFiles = append([]string(nil), ctx.SeenFiles...)
	if ctx.Inputs != nil {
		out.Inputs = make(map[string]string, len(ctx.Inputs))
		for k, v := range ctx.Inputs {
			out.Inputs[k] = v
		}
	}
	if ctx.Snapshots != nil {
		out.Snapshots = make(map[string]string, len(ctx.Snapshots))
		for k, v := range ctx.Snapshots {
			out.Snapshots[k] = v
		}
	}
	return out
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types metadata and result data carry;
// scalars pass through unchanged.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMeta(t)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// asFloat widens any supported numeric type to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// storeNumeric keeps integer counters integral when both operands were
// integral; anything touched by a float becomes float64.
func storeNumeric(existing, contribution any, sum float64) any {
	if isIntegral(existing) && isIntegral(contribution) {
		return int64(sum)
	}
	return sum
}

func isIntegral(v any) bool {
	switch v.(type) {
	case nil, int, int32, int64:
		return true
	default:
		return false
	}
}
