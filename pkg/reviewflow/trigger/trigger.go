// Package trigger turns parsed repository events into executions.
//
// The ingestion front end (webhook verification, payload parsing, chat
// command matching) lives outside this module; it hands over an Event
// whose fields are already extracted. This package owns the step from
// Event to a ready-to-run plan plus initial state: command lookup,
// admission, and history preload. The engine itself never sees a raw
// payload and never does quota logic.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/reviewkit/reviewflow/pkg/reviewflow"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/gate"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/history"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/registry"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// Event is a fully parsed trigger: a repository event or chat command
// with its arguments. Produced by the ingestion front end.
type Event struct {
	// Repo is the repository identifier, e.g. "org/name".
	Repo string

	// PullRequest is the change-request number.
	PullRequest int

	// Installation is the authorization reference for hosting API calls.
	Installation string

	// Command is the matched chat command name, e.g. "review".
	Command string

	// Args are the arguments given with the command.
	Args []string

	// Inputs carries step-specific payload extracted from the event,
	// e.g. the diff to analyze.
	Inputs map[string]string
}

// Sentinel errors for dispatch.
var (
	// ErrUnknownCommand indicates no plan is registered for the command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNotAdmitted indicates the admission gate rejected the trigger.
	ErrNotAdmitted = errors.New("trigger not admitted")
)

// Plans builds the immutable command table. Register every command with
// its compiled plan, then freeze and hand the result to NewDispatcher.
func Plans() *registry.Builder[string, *reviewflow.CompiledGraph] {
	return registry.NewBuilder[string, *reviewflow.CompiledGraph]()
}

// Dispatcher maps admitted events onto compiled plans and initial states.
// It is immutable after construction and safe for concurrent use.
type Dispatcher struct {
	plans   *registry.Registry[string, *reviewflow.CompiledGraph]
	gate    gate.Gate
	history history.Store
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithGate sets the admission gate. Defaults to admitting everything.
func WithGate(g gate.Gate) DispatcherOption {
	return func(d *Dispatcher) {
		d.gate = g
	}
}

// WithHistory sets the history store used to preload seen files into the
// state context. Without one, every run starts with empty history.
func WithHistory(store history.Store) DispatcherOption {
	return func(d *Dispatcher) {
		d.history = store
	}
}

// NewDispatcher creates a dispatcher over a frozen command table.
func NewDispatcher(plans *registry.Registry[string, *reviewflow.CompiledGraph], opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		plans: plans,
		gate:  gate.AllowAll{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch resolves the event's command to a plan and builds the initial
// state, consulting the admission gate first and preloading review
// history if a store is configured. The caller runs the returned plan.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*reviewflow.CompiledGraph, state.State, error) {
	plan, ok := d.plans.Get(ev.Command)
	if !ok {
		return nil, state.State{}, fmt.Errorf("%w: %s", ErrUnknownCommand, ev.Command)
	}

	admitted, err := d.gate.Admit(ctx, fmt.Sprintf("%s#%d", ev.Repo, ev.PullRequest))
	if err != nil {
		return nil, state.State{}, fmt.Errorf("admission check: %w", err)
	}
	if !admitted {
		return nil, state.State{}, fmt.Errorf("%w: %s#%d", ErrNotAdmitted, ev.Repo, ev.PullRequest)
	}

	sctx := state.Context{
		Repo:         ev.Repo,
		PullRequest:  ev.PullRequest,
		Installation: ev.Installation,
		Command:      ev.Command,
		Args:         ev.Args,
		Inputs:       ev.Inputs,
	}

	if d.history != nil {
		record, err := d.history.Load(ev.Repo, ev.PullRequest)
		switch {
		case err == nil:
			sctx.SeenFiles = record.SeenFiles
		case errors.Is(err, history.ErrNotFound):
			// First run for this change request.
		default:
			return nil, state.State{}, fmt.Errorf("load history: %w", err)
		}
	}

	return plan, state.New(sctx), nil
}
