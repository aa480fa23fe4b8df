package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/veldt/outpaint/job"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type workerEvictedEntry struct {
	name string
	hook WorkerEvicted
}

type sessionOpenedEntry struct {
	name string
	hook SessionOpened
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event. Register all hooks
// before serving traffic; registration is not synchronized with emits.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobStarted    []jobStartedEntry
	jobCompleted  []jobCompletedEntry
	jobFailed     []jobFailedEntry
	jobRetrying   []jobRetryingEntry
	workerEvicted []workerEvictedEntry
	sessionOpened []sessionOpenedEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, e})
	}
	if e, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, e})
	}
	if e, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, e})
	}
	if e, ok := h.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, e})
	}
	if e, ok := h.(WorkerEvicted); ok {
		r.workerEvicted = append(r.workerEvicted, workerEvictedEntry{name, e})
	}
	if e, ok := h.(SessionOpened); ok {
		r.sessionOpened = append(r.sessionOpened, sessionOpenedEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all hooks that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitWorkerEvicted notifies all hooks that implement WorkerEvicted.
func (r *Registry) EmitWorkerEvicted(ctx context.Context, workerName, reason string) {
	for _, e := range r.workerEvicted {
		if err := e.hook.OnWorkerEvicted(ctx, workerName, reason); err != nil {
			r.logHookError("OnWorkerEvicted", e.name, err)
		}
	}
}

// EmitSessionOpened notifies all hooks that implement SessionOpened.
func (r *Registry) EmitSessionOpened(ctx context.Context, workerName string) {
	for _, e := range r.sessionOpened {
		if err := e.hook.OnSessionOpened(ctx, workerName); err != nil {
			r.logHookError("OnSessionOpened", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never propagate into
// the dispatch path.
func (r *Registry) logHookError(event, name string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}
