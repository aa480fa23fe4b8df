// Package hook defines the lifecycle event system for outpaint.
// Hooks are notified of lifecycle events (job started, worker evicted,
// session opened, etc.) and can react to them — alerting, tracking,
// metrics.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/veldt/outpaint/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobStarted is called when a job begins executing on a worker.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job's attempt failed but the job will be
// re-dispatched to another worker.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error
}

// WorkerEvicted is called exactly once when a worker is permanently
// removed from the pool.
type WorkerEvicted interface {
	OnWorkerEvicted(ctx context.Context, workerName, reason string) error
}

// SessionOpened is called after a worker's session handle is provisioned
// for the first time.
type SessionOpened interface {
	OnSessionOpened(ctx context.Context, workerName string) error
}

// Shutdown is called once during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
