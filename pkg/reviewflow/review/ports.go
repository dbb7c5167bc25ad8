// Package review wires a complete code-review workflow on top of the
// reviewflow engine: analyze a change, patch the findings worth fixing,
// verify the patches in parallel, and either report or roll back.
//
// The package talks to the outside world through small ports (Analyzer,
// Patcher, Verifier, Host) so the graph itself stays testable with fakes.
package review

import "context"

// Usage is the token and cost accounting for one model call.
type Usage struct {
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Add returns the pointwise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		TokensIn:  u.TokensIn + other.TokensIn,
		TokensOut: u.TokensOut + other.TokensOut,
		Cost:      u.Cost + other.Cost,
	}
}

// Finding is one issue reported by the analyzer.
type Finding struct {
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Patch is a proposed replacement for one file.
type Patch struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Note    string `json:"note,omitempty"`
}

// Analyzer reviews a diff and reports findings. The raw return value is
// the analyzer's response body, which may be imperfect JSON; ParseFindings
// knows how to repair it.
type Analyzer interface {
	Analyze(ctx context.Context, repo string, pullRequest int, diff string) (raw string, usage Usage, err error)
}

// Patcher produces a fix for a single finding.
type Patcher interface {
	Fix(ctx context.Context, repo string, pullRequest int, finding Finding, current string) (Patch, Usage, error)
}

// Verifier runs a named check (lint, test, build) against the working
// branch. A nil error means the check passed; a *CheckError means the
// check ran and failed; anything else is an infrastructure fault.
type Verifier interface {
	Verify(ctx context.Context, repo, branch, check string) error
}

// CheckError reports a verification check that ran to completion and
// failed. It is a workflow outcome, not an infrastructure fault.
type CheckError struct {
	Check  string
	Output string
}

func (e *CheckError) Error() string {
	return "check " + e.Check + " failed"
}

// Host is the hosting-provider surface the workflow needs: fetch the
// change, manipulate the working branch, and post the report.
type Host interface {
	// FetchDiff returns the unified diff for the change request.
	FetchDiff(ctx context.Context, repo string, pullRequest int) (string, error)

	// FileContent returns the current content of a file on a branch.
	FileContent(ctx context.Context, repo, branch, path string) (string, error)

	// CreateBranch creates a working branch from the change's head.
	CreateBranch(ctx context.Context, repo string, pullRequest int, name string) error

	// DeleteBranch removes a working branch. Deleting a branch that does
	// not exist is not an error.
	DeleteBranch(ctx context.Context, repo, name string) error

	// ApplyPatch commits the patch to the named branch.
	ApplyPatch(ctx context.Context, repo, branch string, patch Patch) error

	// PostComment publishes the report on the change request.
	PostComment(ctx context.Context, repo string, pullRequest int, body string) error
}
