package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/hook"
	"github.com/veldt/outpaint/job"
	mw "github.com/veldt/outpaint/middleware"
	"github.com/veldt/outpaint/pool"
	"github.com/veldt/outpaint/session"
	"github.com/veldt/outpaint/track"
)

// Engine drives a job through acquisition, execution, and the health
// policy until it reaches a terminal state.
type Engine struct {
	pool    *pool.Pool
	prov    session.Provisioner
	exec    Executor
	hooks   *hook.Registry
	tracker *track.Tracker
	policy  Policy
	mws     []mw.Middleware
	logger  *slog.Logger

	// jobTimeout caps the total wall time of one Run call, spanning
	// all acquire and execute attempts. Without it a persistently
	// retryable outcome would loop forever.
	jobTimeout time.Duration
}

// DefaultJobTimeout is the overall per-job deadline applied when
// WithJobTimeout is not set. It matches the pool's default acquire
// deadline so a job never outlives a single saturated acquisition.
const DefaultJobTimeout = 5 * time.Minute

// Option configures an Engine.
type Option func(*Engine)

// WithHooks sets the hook registry the engine emits lifecycle events to.
func WithHooks(r *hook.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithTracker sets the job tracker the engine records state into.
func WithTracker(t *track.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithPolicy sets the worker health policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMiddleware appends middleware around each execution attempt.
func WithMiddleware(ms ...mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, ms...) }
}

// WithJobTimeout caps the total wall time of one Run call. Zero keeps
// DefaultJobTimeout.
func WithJobTimeout(d time.Duration) Option {
	return func(e *Engine) { e.jobTimeout = d }
}

// New creates an Engine over the given pool, provisioner, and executor.
func New(p *pool.Pool, prov session.Provisioner, exec Executor, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		pool:   p,
		prov:   prov,
		exec:   exec,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = hook.NewRegistry(logger)
	}
	if e.tracker == nil {
		e.tracker = track.New()
	}
	if e.jobTimeout <= 0 {
		e.jobTimeout = DefaultJobTimeout
	}
	return e
}

// Tracker returns the engine's job tracker.
func (e *Engine) Tracker() *track.Tracker { return e.tracker }

// Hooks returns the engine's hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Pool returns the engine's worker pool.
func (e *Engine) Pool() *pool.Pool { return e.pool }

// Run executes the job to completion and returns its output references.
// It loops acquire, execute, evaluate until the executor reports success
// or a fatal outcome, the pool empties, or the overall job deadline
// passes, after which the job terminates as timed out instead of
// re-entering acquisition. The job record in the tracker is updated at
// every transition.
func (e *Engine) Run(ctx context.Context, j *job.Job) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	e.tracker.Put(j)
	e.hooks.EmitJobStarted(ctx, j)
	start := time.Now()

	for {
		e.setState(j, job.StateAcquiring)

		w, lease, err := e.pool.Acquire(ctx)
		if err != nil {
			return nil, e.fail(ctx, j, err)
		}

		outcome := e.executeOnce(ctx, j, w, lease)

		decision := e.policy.Evaluate(outcome)
		if decision.Evict {
			if e.pool.Evict(w, decision.Reason) {
				e.hooks.EmitWorkerEvicted(ctx, w.Name(), decision.Reason)
			}
		}

		switch outcome.Kind {
		case KindSuccess:
			j.OutputRefs = outcome.OutputRefs
			e.finish(j, job.StateSucceeded, "")
			e.hooks.EmitJobCompleted(ctx, j, time.Since(start))
			return outcome.OutputRefs, nil

		case KindFatal:
			return nil, e.fail(ctx, j, outcome.Err())

		default:
			// Retryable and unhealthy outcomes send the job back to
			// acquisition. Eviction, when ordered, already happened
			// above, so the next acquire cannot land on this worker.
			j.Attempts++
			j.LastError = outcome.Reason
			e.tracker.Put(j)
			e.hooks.EmitJobRetrying(ctx, j, j.Attempts)
			e.logger.Warn("job attempt failed, retrying",
				slog.String("job_id", j.ID.String()),
				slog.String("worker", w.Name()),
				slog.String("kind", outcome.Kind.String()),
				slog.String("reason", outcome.Reason),
				slog.Int("attempt", j.Attempts),
			)
		}
	}
}

// executeOnce performs one attempt on the leased worker. The lease is
// released exactly once regardless of how the attempt ends.
func (e *Engine) executeOnce(ctx context.Context, j *job.Job, w *pool.Worker, lease *pool.Lease) Outcome {
	defer lease.Release()

	sess, created, err := w.Session(ctx, e.prov)
	if err != nil {
		return Retryable(fmt.Sprintf("provision session for %s: %v", w.Name(), err))
	}
	if created {
		e.hooks.EmitSessionOpened(ctx, w.Name())
	}

	j.Worker = w.Name()
	e.setState(j, job.StateExecuting)

	var (
		outcome Outcome
		settled bool
	)
	handler := func(hctx context.Context) error {
		outcome = e.exec.Execute(hctx, sess, j)
		settled = true
		if outcome.Kind == KindSuccess {
			return nil
		}
		return fmt.Errorf("%s: %s", outcome.Kind, outcome.Reason)
	}

	if chainErr := mw.Chain(e.mws...)(ctx, j, handler); chainErr != nil && !settled {
		// The executor never returned; a panic was swallowed by the
		// recover middleware or a wrapper short-circuited the chain.
		return Fatal(outpaint.CodeInternal, chainErr.Error())
	}

	return outcome
}

// fail marks the job terminal for the given error and returns the error
// the caller should surface.
func (e *Engine) fail(ctx context.Context, j *job.Job, err error) error {
	state := job.StateFailed
	if outpaint.CodeOf(err) == outpaint.CodeAcquireTimeout || ctx.Err() == context.DeadlineExceeded {
		state = job.StateTimedOut
	}
	e.finish(j, state, err.Error())
	e.hooks.EmitJobFailed(ctx, j, err)
	e.logger.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("state", string(state)),
		slog.String("error", err.Error()),
	)
	return err
}

func (e *Engine) setState(j *job.Job, s job.State) {
	j.State = s
	j.UpdatedAt = time.Now().UTC()
	e.tracker.Put(j)
}

func (e *Engine) finish(j *job.Job, s job.State, lastErr string) {
	now := time.Now().UTC()
	j.State = s
	j.LastError = lastErr
	j.UpdatedAt = now
	j.CompletedAt = &now
	e.tracker.Put(j)
}
