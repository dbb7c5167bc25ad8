package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewflow/pkg/reviewflow"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/history"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/retry"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// noRetry keeps workflow tests fast and deterministic.
var noRetry = retry.Config{MaxAttempts: 1}

type fakeAnalyzer struct {
	raw   string
	usage Usage
	err   error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string, _ int, _ string) (string, Usage, error) {
	return f.raw, f.usage, f.err
}

type fakePatcher struct {
	usage Usage
	err   error
}

func (f *fakePatcher) Fix(_ context.Context, _ string, _ int, finding Finding, current string) (Patch, Usage, error) {
	if f.err != nil {
		return Patch{}, Usage{}, f.err
	}
	return Patch{
		File:    finding.File,
		Content: current + "\n// fixed",
		Note:    "fix " + finding.Message,
	}, f.usage, nil
}

type fakeVerifier struct {
	mu       sync.Mutex
	failing  map[string]bool
	infraErr error
	calls    []string
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string, check string) error {
	f.mu.Lock()
	f.calls = append(f.calls, check)
	f.mu.Unlock()

	if f.infraErr != nil {
		return f.infraErr
	}
	if f.failing[check] {
		return &CheckError{Check: check, Output: check + " found problems"}
	}
	return nil
}

type fakeHost struct {
	mu       sync.Mutex
	diff     string
	files    map[string]string
	branches []string
	deleted  []string
	patches  []Patch
	comments []string
}

func (f *fakeHost) FetchDiff(_ context.Context, _ string, _ int) (string, error) {
	return f.diff, nil
}

func (f *fakeHost) FileContent(_ context.Context, _, _, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (f *fakeHost) CreateBranch(_ context.Context, _ string, _ int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeHost) DeleteBranch(_ context.Context, _ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeHost) ApplyPatch(_ context.Context, _, _ string, patch Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeHost) PostComment(_ context.Context, _ string, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

const highFinding = `{"findings": [{"file": "auth.go", "line": 42, "severity": "HIGH", "message": "hardcoded credential"}]}`

func runWorkflow(t *testing.T, w *Workflow, sctx state.Context) (state.State, error) {
	t.Helper()

	cg, err := w.BuildGraph()
	require.NoError(t, err)

	return cg.Run(reviewflow.NewContext(context.Background()), state.New(sctx))
}

func defaultContext() state.Context {
	return state.Context{
		Repo:        "acme/widgets",
		PullRequest: 7,
		Inputs:      map[string]string{"diff": "+ password := \"hunter2\""},
	}
}

// TestWorkflow_CleanScan verifies a clean analysis goes straight to the
// report and history, with no branch or patch activity.
func TestWorkflow_CleanScan(t *testing.T) {
	host := &fakeHost{}
	store := history.NewMemoryStore()

	w := New(
		&fakeAnalyzer{raw: `{"findings": []}`},
		&fakePatcher{},
		&fakeVerifier{},
		host,
		WithRetry(noRetry),
		WithHistory(store))

	final, err := runWorkflow(t, w, defaultContext())

	require.NoError(t, err)
	assert.False(t, final.Failed())
	assert.Empty(t, host.branches)
	assert.Empty(t, host.patches)

	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "No new findings")

	rec, err := store.Load("acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Findings)
	assert.NotEmpty(t, rec.LastRunID)
}

// TestWorkflow_FindFixVerify covers the full happy path: finding, patch,
// parallel verification, report, history.
func TestWorkflow_FindFixVerify(t *testing.T) {
	host := &fakeHost{files: map[string]string{"auth.go": "package auth"}}
	verifier := &fakeVerifier{}
	store := history.NewMemoryStore()

	w := New(
		&fakeAnalyzer{raw: highFinding, usage: Usage{TokensIn: 900, TokensOut: 100, Cost: 0.01}},
		&fakePatcher{usage: Usage{TokensIn: 400, TokensOut: 200, Cost: 0.02}},
		verifier,
		host,
		WithRetry(noRetry),
		WithHistory(store))

	final, err := runWorkflow(t, w, defaultContext())

	require.NoError(t, err)
	assert.False(t, final.Failed())

	// One working branch, one patch built on the snapshot content.
	require.Len(t, host.branches, 1)
	assert.Equal(t, "reviewflow/pr-7", host.branches[0])
	require.Len(t, host.patches, 1)
	assert.Contains(t, host.patches[0].Content, "package auth")

	// All three checks ran, in some order.
	assert.ElementsMatch(t, []string{"lint", "test", "build"}, verifier.calls)

	// Results: finding, fix, three verifications, then the join summary.
	kinds := make(map[string]int)
	for _, r := range final.Results {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds["finding"])
	assert.Equal(t, 1, kinds["fix"])
	assert.Equal(t, 3, kinds["verification"])
	assert.Equal(t, 1, kinds["summary"])

	assert.InDelta(t, 0.03, final.MetaFloat("cost"), 1e-9)
	assert.Equal(t, float64(1300), final.MetaFloat("tokens_in"))

	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "hardcoded credential")
	assert.Contains(t, host.comments[0], "HIGH")

	rec, err := store.Load("acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Findings)
	assert.Equal(t, []string{"auth.go"}, rec.SeenFiles)
	assert.InDelta(t, 0.03, rec.Cost, 1e-9)
}

// TestWorkflow_RetryThenRollback verifies persistent verification failure
// retries the fix once, then rolls the working branch back; the report is
// still posted.
func TestWorkflow_RetryThenRollback(t *testing.T) {
	host := &fakeHost{files: map[string]string{"auth.go": "package auth"}}
	verifier := &fakeVerifier{failing: map[string]bool{"test": true}}

	w := New(
		&fakeAnalyzer{raw: highFinding},
		&fakePatcher{},
		verifier,
		host,
		WithRetry(noRetry),
		WithMaxFixAttempts(2))

	final, err := runWorkflow(t, w, defaultContext())

	require.NoError(t, err)
	assert.False(t, final.Failed(), "a failed check is an outcome, not a business failure")

	// Two fix rounds patched twice, each followed by a verification round.
	assert.Len(t, host.patches, 2)
	assert.Len(t, verifier.calls, 6)

	// Branch created once, then rolled back by deletion.
	require.Len(t, host.branches, 1)
	assert.Equal(t, host.branches, host.deleted)

	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "Rolled back")
}

// TestWorkflow_AnalyzerDown verifies an analyzer failure becomes a
// reported business failure: no fixing, but the comment still goes out.
func TestWorkflow_AnalyzerDown(t *testing.T) {
	host := &fakeHost{}

	w := New(
		&fakeAnalyzer{err: errors.New("model endpoint unreachable")},
		&fakePatcher{},
		&fakeVerifier{},
		host,
		WithRetry(noRetry))

	final, err := runWorkflow(t, w, defaultContext())

	require.NoError(t, err)
	require.True(t, final.Failed())
	assert.Equal(t, "scan", final.Err.Step)

	assert.Empty(t, host.branches)
	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "hit a problem")
}

// TestWorkflow_SeenFilesFiltered verifies findings on already reviewed
// files are dropped, turning the run into a clean one.
func TestWorkflow_SeenFilesFiltered(t *testing.T) {
	host := &fakeHost{}

	w := New(
		&fakeAnalyzer{raw: highFinding},
		&fakePatcher{},
		&fakeVerifier{},
		host,
		WithRetry(noRetry))

	sctx := defaultContext()
	sctx.SeenFiles = []string{"auth.go"}

	final, err := runWorkflow(t, w, sctx)

	require.NoError(t, err)
	assert.Empty(t, host.branches, "nothing to fix when every finding is old news")

	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "No new findings")
	assert.Equal(t, 0.0, final.MetaFloat("findings"))
}

// TestWorkflow_SelectedChecksOnly verifies the configured check list
// drives both the graph shape and the fan-out.
func TestWorkflow_SelectedChecksOnly(t *testing.T) {
	host := &fakeHost{files: map[string]string{"auth.go": "package auth"}}
	verifier := &fakeVerifier{}

	w := New(
		&fakeAnalyzer{raw: highFinding},
		&fakePatcher{},
		verifier,
		host,
		WithRetry(noRetry),
		WithChecks("lint"))

	_, err := runWorkflow(t, w, defaultContext())

	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, verifier.calls)
}

// TestWorkflow_ReportRendering spot-checks the markdown body.
func TestWorkflow_ReportRendering(t *testing.T) {
	w := New(&fakeAnalyzer{}, &fakePatcher{}, &fakeVerifier{}, &fakeHost{})

	s := state.New(state.Context{Repo: "acme/widgets", PullRequest: 7}).
		WithResult(state.Result{Kind: "finding", Severity: "HIGH", File: "auth.go", Line: 42, Message: "hardcoded credential"}).
		AddCost(0.03).
		CommitMetadata()

	body := w.renderReport(s)

	assert.True(t, strings.HasPrefix(body, "## Review"))
	assert.Contains(t, body, "1 finding(s)")
	assert.Contains(t, body, "`auth.go:42`")
	assert.Contains(t, body, "$0.0300")
}
