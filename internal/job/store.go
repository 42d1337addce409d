package job

import "context"

// Store persists the job queue.
type Store interface {
	// Upsert inserts j or replaces the stored row with the same ID.
	Upsert(ctx context.Context, j *Job) error
	Delete(ctx context.Context, ids ...string) error
	// List returns every job in insertion order.
	List(ctx context.Context) ([]*Job, error)
	// ResetRunning moves all "RUNNING" jobs back to "QUEUED" and returns their IDs.
	// Called at startup to recover jobs that were interrupted by a crash.
	ResetRunning(ctx context.Context) ([]string, error)
	Close() error
}
