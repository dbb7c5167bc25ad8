// Package history provides long-lived review history storage.
//
// The engine itself never touches this package: a caller loads a record
// into the state context before the first node runs (e.g. to review only
// files not seen before), and a designated terminal node writes the
// updated record back out. Implementations must be safe for concurrent
// use.
package history

import (
	"errors"
	"time"
)

// Record is the persisted review history for one change request.
type Record struct {
	// Repo is the repository identifier, e.g. "org/name".
	Repo string `json:"repo"`

	// PullRequest is the change-request number.
	PullRequest int `json:"pull_request"`

	// LastRunID identifies the execution that last updated this record.
	LastRunID string `json:"last_run_id,omitempty"`

	// SeenFiles lists files already reviewed in earlier runs.
	SeenFiles []string `json:"seen_files,omitempty"`

	// Findings is the running total of findings across runs.
	Findings int `json:"findings"`

	// Cost is the accumulated cost across runs.
	Cost float64 `json:"cost"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// MergeSeen returns a copy of the record with the given files added to
// SeenFiles, preserving order and dropping duplicates.
func (r Record) MergeSeen(files []string) Record {
	seen := make(map[string]bool, len(r.SeenFiles))
	merged := append([]string(nil), r.SeenFiles...)
	for _, f := range r.SeenFiles {
		seen[f] = true
	}
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}
	r.SeenFiles = merged
	return r
}

// Store persists review history records.
type Store interface {
	// Save writes the record for (record.Repo, record.PullRequest),
	// overwriting any existing one.
	Save(record Record) error

	// Load retrieves the record for a change request.
	// Returns ErrNotFound if none exists.
	Load(repo string, pullRequest int) (Record, error)

	// List returns all records for a repository, ordered by pull request
	// number. Returns an empty slice (not an error) when there are none.
	List(repo string) ([]Record, error)

	// Delete removes the record for a change request.
	// Returns nil if no record exists.
	Delete(repo string, pullRequest int) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for history operations.
var (
	// ErrNotFound indicates no record exists for the change request.
	ErrNotFound = errors.New("history record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("history store closed")
)
