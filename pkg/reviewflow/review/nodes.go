package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reviewkit/reviewflow/pkg/reviewflow"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/history"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/retry"
	"github.com/reviewkit/reviewflow/pkg/reviewflow/state"
)

// Metadata keys the workflow nodes communicate through. Numeric keys
// accumulate across nodes and branches; the rest are last-write-wins.
const (
	metaCost         = "cost"
	metaFindings     = "findings"
	metaFixAttempts  = "fix_attempts"
	metaScannedFiles = "scanned_files"
	metaSnapshots    = "snapshots"
	metaWorkBranch   = "work_branch"
)

// Result kinds emitted by the workflow nodes.
const (
	kindFinding      = "finding"
	kindFix          = "fix"
	kindVerification = "verification"
	kindRollback     = "rollback"
	kindSummary      = "summary"
)

// Workflow is the code-review graph and its dependencies. Build it with
// New, then call BuildGraph and run the compiled plan.
type Workflow struct {
	analyzer Analyzer
	patcher  Patcher
	verifier Verifier
	host     Host
	store    history.Store

	checks         []string
	retryCfg       retry.Config
	maxFixAttempts int
	fixSeverities  map[string]bool
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithChecks sets the verification checks fanned out after fixing.
// The default is lint, test, build.
func WithChecks(checks ...string) Option {
	return func(w *Workflow) {
		w.checks = append([]string(nil), checks...)
	}
}

// WithHistory attaches a history store; the terminal node persists seen
// files, finding totals, and cost there after every run.
func WithHistory(store history.Store) Option {
	return func(w *Workflow) {
		w.store = store
	}
}

// WithRetry overrides the retry policy used around remote calls.
func WithRetry(cfg retry.Config) Option {
	return func(w *Workflow) {
		w.retryCfg = cfg
	}
}

// WithMaxFixAttempts caps how many times the fix node may run when
// verification keeps failing. Values below one are treated as one.
func WithMaxFixAttempts(n int) Option {
	return func(w *Workflow) {
		if n < 1 {
			n = 1
		}
		w.maxFixAttempts = n
	}
}

// WithFixSeverities sets which finding severities are worth patching.
// The default is HIGH only.
func WithFixSeverities(severities ...string) Option {
	return func(w *Workflow) {
		w.fixSeverities = make(map[string]bool, len(severities))
		for _, s := range severities {
			w.fixSeverities[strings.ToUpper(s)] = true
		}
	}
}

// New creates a Workflow with the given ports.
func New(analyzer Analyzer, patcher Patcher, verifier Verifier, host Host, opts ...Option) *Workflow {
	w := &Workflow{
		analyzer:       analyzer,
		patcher:        patcher,
		verifier:       verifier,
		host:           host,
		checks:         []string{"lint", "test", "build"},
		retryCfg:       retry.Default,
		maxFixAttempts: 2,
		fixSeverities:  map[string]bool{"HIGH": true},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// scan fetches the diff, asks the analyzer for findings, and records each
// new finding as a result. Files already reviewed in earlier runs are
// dropped from the report.
func (w *Workflow) scan(ctx reviewflow.Context, s state.State) (state.State, error) {
	repo, pr := s.Context.Repo, s.Context.PullRequest

	diff := s.Context.Inputs["diff"]
	if diff == "" {
		res := retry.Do(ctx, w.retryCfg, func(c context.Context) (string, error) {
			return w.host.FetchDiff(c, repo, pr)
		})
		if res.Err != nil {
			return s, fmt.Errorf("fetch diff: %w", res.Err)
		}
		diff = res.Value
	}

	res := retry.Do(ctx, w.retryCfg, func(c context.Context) (analysis, error) {
		raw, usage, err := w.analyzer.Analyze(c, repo, pr, diff)
		return analysis{raw: raw, usage: usage}, err
	})
	if res.Err != nil {
		return s, fmt.Errorf("analyze: %w", res.Err)
	}
	s = s.AddUsage(res.Value.usage.TokensIn, res.Value.usage.TokensOut).
		AddCost(res.Value.usage.Cost)

	findings, err := ParseFindings(res.Value.raw)
	if err != nil {
		return s, err
	}

	seen := make(map[string]bool, len(s.Context.SeenFiles))
	for _, f := range s.Context.SeenFiles {
		seen[f] = true
	}

	files := make(map[string]bool)
	fresh := 0
	for _, f := range findings {
		files[f.File] = true
		if seen[f.File] {
			continue
		}
		fresh++
		s = s.WithResult(state.Result{
			Step:     s.CurrentStep,
			Kind:     kindFinding,
			Severity: f.Severity,
			File:     f.File,
			Line:     f.Line,
			Message:  f.Message,
			Data:     findingData(f),
		})
	}

	return s.Contribute(map[string]any{
		metaFindings:     fresh,
		metaScannedFiles: sortedSet(files),
	}), nil
}

func findingData(f Finding) map[string]any {
	if f.Suggestion == "" {
		return nil
	}
	return map[string]any{"suggestion": f.Suggestion}
}

// routeScan decides what happens after scanning: fresh findings go to the
// fix path, a clean scan (or a scan failure) goes straight to reporting.
func (w *Workflow) routeScan(ctx reviewflow.Context, s state.State) string {
	if s.Failed() {
		return "error"
	}
	if s.MetaFloat(metaFindings) > 0 {
		return "found"
	}
	return "clean"
}

// snapshot captures the pre-fix content of every file the patcher will
// touch. The rollback node restores from this capture; nothing in the
// engine does.
func (w *Workflow) snapshot(ctx reviewflow.Context, s state.State) (state.State, error) {
	repo := s.Context.Repo

	snapshots := make(map[string]string)
	for _, f := range w.fixableFindings(s) {
		if _, ok := snapshots[f.File]; ok {
			continue
		}
		res := retry.Do(ctx, w.retryCfg, func(c context.Context) (string, error) {
			return w.host.FileContent(c, repo, "", f.File)
		})
		if res.Err != nil {
			return s, fmt.Errorf("snapshot %s: %w", f.File, res.Err)
		}
		snapshots[f.File] = res.Value
	}

	return s.Contribute(map[string]any{metaSnapshots: snapshots}), nil
}

// fix creates a working branch and asks the patcher for a fix per fixable
// finding. Registered success-only: it never runs against a failed state.
func (w *Workflow) fix(ctx reviewflow.Context, s state.State) (state.State, error) {
	repo, pr := s.Context.Repo, s.Context.PullRequest
	branch := workBranch(pr)

	if s.MetaString(metaWorkBranch) == "" {
		if err := w.host.CreateBranch(ctx, repo, pr, branch); err != nil {
			return s, fmt.Errorf("create branch %s: %w", branch, err)
		}
	}

	snapshots, _ := s.Metadata[metaSnapshots].(map[string]string)
	for _, f := range w.fixableFindings(s) {
		res := retry.Do(ctx, w.retryCfg, func(c context.Context) (patched, error) {
			p, usage, err := w.patcher.Fix(c, repo, pr, f, snapshots[f.File])
			return patched{patch: p, usage: usage}, err
		})
		if res.Err != nil {
			return s, fmt.Errorf("fix %s: %w", f.File, res.Err)
		}
		s = s.AddUsage(res.Value.usage.TokensIn, res.Value.usage.TokensOut).
			AddCost(res.Value.usage.Cost)

		if err := w.host.ApplyPatch(ctx, repo, branch, res.Value.patch); err != nil {
			return s, fmt.Errorf("apply patch %s: %w", f.File, err)
		}
		s = s.WithResult(state.Result{
			Step:    s.CurrentStep,
			Kind:    kindFix,
			File:    f.File,
			Line:    f.Line,
			Message: res.Value.patch.Note,
			Data:    map[string]any{"fixed": true},
		})
	}

	return s.Contribute(map[string]any{
		metaFixAttempts: 1,
		metaWorkBranch:  branch,
	}), nil
}

type analysis struct {
	raw   string
	usage Usage
}

type patched struct {
	patch Patch
	usage Usage
}

// checkNode builds the verification node for one named check. A check
// that ran and failed is a recorded outcome, not an error: the collect
// router decides whether to retry the fix or roll back.
func (w *Workflow) checkNode(check string) reviewflow.NodeFunc {
	return func(ctx reviewflow.Context, s state.State) (state.State, error) {
		repo := s.Context.Repo
		branch := s.MetaString(metaWorkBranch)

		cfg := w.retryCfg
		inner := cfg.RetryableFunc
		cfg.RetryableFunc = func(err error) bool {
			var ce *CheckError
			if errors.As(err, &ce) {
				return false
			}
			if inner != nil {
				return inner(err)
			}
			return retry.Categorize(err) != retry.CategoryPermanent
		}

		res := retry.Do(ctx, cfg, func(c context.Context) (struct{}, error) {
			return struct{}{}, w.verifier.Verify(c, repo, branch, check)
		})

		var ce *CheckError
		if errors.As(res.Err, &ce) {
			return s.WithResult(state.Result{
				Step:    s.CurrentStep,
				Kind:    kindVerification,
				Message: check + " failed",
				Data:    map[string]any{"check": check, "passed": false, "output": ce.Output},
			}), nil
		}
		if res.Err != nil {
			return s, fmt.Errorf("verify %s: %w", check, res.Err)
		}

		return s.WithResult(state.Result{
			Step:    s.CurrentStep,
			Kind:    kindVerification,
			Message: check + " passed",
			Data:    map[string]any{"check": check, "passed": true},
		}), nil
	}
}

// selectChecks fans the verification out across every configured check.
func (w *Workflow) selectChecks(ctx reviewflow.Context, s state.State) []string {
	return append([]string(nil), w.checks...)
}

// collect is the join node after verification. It summarizes the latest
// verification round so the router and the report can read one record
// instead of rescanning branch results.
func (w *Workflow) collect(ctx reviewflow.Context, s state.State) (state.State, error) {
	passed, failed := w.latestVerification(s)
	return s.WithResult(state.Result{
		Step:    s.CurrentStep,
		Kind:    kindSummary,
		Message: fmt.Sprintf("verification: %d passed, %d failed", passed, failed),
		Data:    map[string]any{"passed": passed, "failed": failed},
	}), nil
}

// routeCollect routes the joined state: all checks green means report,
// a failed check retries the fix while attempts remain, anything else
// rolls back.
func (w *Workflow) routeCollect(ctx reviewflow.Context, s state.State) string {
	if s.Failed() {
		return "rollback"
	}
	_, failed := w.latestVerification(s)
	if failed == 0 {
		return "ok"
	}
	if int(s.MetaFloat(metaFixAttempts)) < w.maxFixAttempts {
		return "retry"
	}
	return "rollback"
}

// rollback undoes the fix attempt. The working branch is deleted when one
// was created; otherwise the captured snapshots are restored file by file.
// Both are ordinary node work, the engine knows nothing about undo.
func (w *Workflow) rollback(ctx reviewflow.Context, s state.State) (state.State, error) {
	repo := s.Context.Repo

	if branch := s.MetaString(metaWorkBranch); branch != "" {
		if err := w.host.DeleteBranch(ctx, repo, branch); err != nil {
			return s, fmt.Errorf("delete branch %s: %w", branch, err)
		}
		return s.WithResult(state.Result{
			Step:    s.CurrentStep,
			Kind:    kindRollback,
			Message: "deleted working branch " + branch,
		}), nil
	}

	snapshots, _ := s.Metadata[metaSnapshots].(map[string]string)
	for _, file := range sortedKeys(snapshots) {
		err := w.host.ApplyPatch(ctx, repo, "", Patch{File: file, Content: snapshots[file], Note: "restore"})
		if err != nil {
			return s, fmt.Errorf("restore %s: %w", file, err)
		}
	}
	return s.WithResult(state.Result{
		Step:    s.CurrentStep,
		Kind:    kindRollback,
		Message: fmt.Sprintf("restored %d files from snapshot", len(snapshots)),
	}), nil
}

// report posts the run summary on the change request. Every path through
// the graph passes through this node exactly once, just before the
// terminal history write.
func (w *Workflow) report(ctx reviewflow.Context, s state.State) (state.State, error) {
	body := w.renderReport(s)
	res := retry.Do(ctx, w.retryCfg, func(c context.Context) (struct{}, error) {
		return struct{}{}, w.host.PostComment(c, s.Context.Repo, s.Context.PullRequest, body)
	})
	if res.Err != nil {
		return s, fmt.Errorf("post comment: %w", res.Err)
	}
	return s, nil
}

// saveHistory is the terminal node: it folds this run into the persisted
// record for the change request. Without a store it is a no-op.
func (w *Workflow) saveHistory(ctx reviewflow.Context, s state.State) (state.State, error) {
	if w.store == nil {
		return s, nil
	}

	repo, pr := s.Context.Repo, s.Context.PullRequest
	rec, err := w.store.Load(repo, pr)
	if errors.Is(err, history.ErrNotFound) {
		rec = history.Record{Repo: repo, PullRequest: pr}
	} else if err != nil {
		return s, fmt.Errorf("load history: %w", err)
	}

	scanned, _ := s.Metadata[metaScannedFiles].([]string)
	rec = rec.MergeSeen(scanned)
	rec.LastRunID = ctx.RunID()
	rec.Findings += int(s.MetaFloat(metaFindings))
	rec.Cost += s.MetaFloat(metaCost)
	rec.UpdatedAt = time.Now().UTC()

	if err := w.store.Save(rec); err != nil {
		return s, fmt.Errorf("save history: %w", err)
	}
	return s, nil
}

// fixableFindings returns the findings whose severity the workflow is
// configured to patch, in result order.
func (w *Workflow) fixableFindings(s state.State) []Finding {
	var out []Finding
	for _, r := range s.Results {
		if r.Kind != kindFinding || !w.fixSeverities[r.Severity] {
			continue
		}
		out = append(out, Finding{
			File:     r.File,
			Line:     r.Line,
			Severity: r.Severity,
			Message:  r.Message,
		})
	}
	return out
}

// latestVerification counts check outcomes recorded after the most recent
// fix attempt, so a retried fix is judged only on its own round.
func (w *Workflow) latestVerification(s state.State) (passed, failed int) {
	start := 0
	for i, r := range s.Results {
		if r.Kind == kindFix {
			start = i + 1
		}
	}
	for _, r := range s.Results[start:] {
		if r.Kind != kindVerification {
			continue
		}
		if ok, _ := r.Data["passed"].(bool); ok {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// renderReport builds the markdown body posted on the change request.
func (w *Workflow) renderReport(s state.State) string {
	var b strings.Builder
	b.WriteString("## Review\n\n")

	if s.Failed() {
		fmt.Fprintf(&b, "The run hit a problem at step `%s`: %s\n\n", s.Err.Step, s.Err.Message)
	}

	var findings, fixes, rollbacks []state.Result
	for _, r := range s.Results {
		switch r.Kind {
		case kindFinding:
			findings = append(findings, r)
		case kindFix:
			fixes = append(fixes, r)
		case kindRollback:
			rollbacks = append(rollbacks, r)
		}
	}

	if len(findings) == 0 {
		b.WriteString("No new findings.\n")
	} else {
		fmt.Fprintf(&b, "%d finding(s):\n\n", len(findings))
		for _, f := range findings {
			fmt.Fprintf(&b, "- **%s** `%s:%d` %s\n", f.Severity, f.File, f.Line, f.Message)
		}
	}

	if len(fixes) > 0 {
		fmt.Fprintf(&b, "\n%d file(s) patched on `%s`.\n", len(fixes), s.MetaString(metaWorkBranch))
	}
	for _, r := range rollbacks {
		fmt.Fprintf(&b, "\nRolled back: %s.\n", r.Message)
	}

	if cost := s.MetaFloat(metaCost); cost > 0 {
		fmt.Fprintf(&b, "\n_Cost: $%.4f_\n", cost)
	}
	return b.String()
}

func workBranch(pullRequest int) string {
	return fmt.Sprintf("reviewflow/pr-%d", pullRequest)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
