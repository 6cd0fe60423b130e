package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the pool's per-job timeout.
	Execute(ctx context.Context) error

	// AccountID identifies the account the job operates on.
	AccountID() string

	// Description returns a human-readable description for logs.
	Description() string
}
