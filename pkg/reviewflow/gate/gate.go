// Package gate provides the admission gate consulted before an execution
// is started. The engine performs no quota logic itself; every run it
// receives is assumed to have been admitted here first.
package gate

import "context"

// Gate decides whether a trigger is admitted. Key identifies the quota
// bucket, typically "repo#pr" or the commenting user.
type Gate interface {
	// Admit returns true if the trigger may proceed. A false return is a
	// quota decision, not an error; errors mean the gate itself failed.
	Admit(ctx context.Context, key string) (bool, error)
}

// AllowAll is a Gate that admits everything. Useful for tests and
// deployments without rate limiting.
type AllowAll struct{}

// Admit implements Gate.
func (AllowAll) Admit(context.Context, string) (bool, error) {
	return true, nil
}
