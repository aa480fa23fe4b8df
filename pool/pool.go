package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/backoff"
	"github.com/veldt/outpaint/ratelimit"
)

// Spec declares one worker at pool construction time.
type Spec struct {
	Name       string
	ExternalID string

	// Capacity is the worker's permit capacity; Refill its bucket refill
	// rate in permits per second (zero disables rate gating).
	Capacity int
	Refill   float64
}

// Pool is an ordered, shrink-only collection of live workers with a
// monotonically increasing round-robin cursor. Safe for concurrent use.
//
// Membership only shrinks after construction: workers are never
// re-added once the pool is serving traffic, and eviction is permanent
// for the process lifetime.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	cursor  uint64

	acquireTimeout time.Duration
	retry          backoff.Strategy
	logger         *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithAcquireTimeout sets the maximum wall-clock time Acquire may spend
// waiting for a permit before failing.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithRetryBackoff sets the delay strategy applied after a candidate
// worker had no permit available.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(p *Pool) { p.retry = s }
}

// New creates a pool with one worker per spec, in spec order.
func New(specs []Spec, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		acquireTimeout: 5 * time.Minute,
		retry:          backoff.DefaultDispatch(),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, s := range specs {
		p.workers = append(p.workers, NewWorker(s.Name, s.ExternalID, ratelimit.New(s.Capacity, s.Refill)))
	}
	return p
}

// Lease is the release handle returned by a successful acquisition. It
// is bound to the originating worker's bucket and releases at most once,
// so callers can defer Release on every exit path.
type Lease struct {
	worker *Worker
	once   sync.Once
}

// Worker returns the worker this lease was acquired on.
func (l *Lease) Worker() *Worker { return l.worker }

// Release returns the permit to the originating worker's bucket.
// Subsequent calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() { l.worker.bucket.Release() })
}

// Acquire selects a worker round-robin and checks out one permit,
// blocking with bounded backoff while all candidates are saturated.
//
// The deadline is computed once at entry from the pool's acquire
// timeout, tightened by any earlier ctx deadline. It fails with
// ErrAcquireTimeout when the deadline passes, ErrPoolExhausted as soon
// as the pool is empty, or the context error when ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Worker, *Lease, error) {
	deadline := time.Now().Add(p.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if time.Now().After(deadline) {
			return nil, nil, outpaint.ErrAcquireTimeout
		}

		w, ok := p.next()
		if !ok {
			return nil, nil, outpaint.ErrPoolExhausted
		}

		if w.bucket.TryAcquire() {
			return w, &Lease{worker: w}, nil
		}

		p.logger.Debug("no permit on candidate worker, backing off",
			slog.String("worker", w.name),
			slog.Int("attempt", attempt),
		)
		if err := backoff.Sleep(ctx, p.retry.Delay(attempt)); err != nil {
			return nil, nil, err
		}
	}
}

// next returns the worker under the cursor and advances it. The cursor
// is applied modulo the current size, so selection stays valid across
// concurrent shrinks.
func (p *Pool) next() (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return nil, false
	}
	w := p.workers[int(p.cursor%uint64(len(p.workers)))]
	p.cursor++
	return w, true
}

// Evict permanently removes w from the pool and closes its session. It
// reports whether this call performed the removal, so concurrent
// unhealthy reports from in-flight jobs alert only once. Permits still
// held on the worker release into its now-unreachable bucket.
func (p *Pool) Evict(w *Worker, reason string) bool {
	p.mu.Lock()
	removed := false
	for i, cand := range p.workers {
		if cand == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			removed = true
			break
		}
	}
	remaining := len(p.workers)
	p.mu.Unlock()

	if !removed {
		return false
	}

	p.logger.Warn("worker evicted",
		slog.String("worker", w.name),
		slog.String("reason", reason),
		slog.Int("remaining", remaining),
	)
	if err := w.closeSession(); err != nil {
		p.logger.Warn("closing evicted worker session",
			slog.String("worker", w.name),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// Len returns the number of live workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// WorkerInfo is a point-in-time view of one worker, for introspection.
type WorkerInfo struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Available   int    `json:"available"`
	SessionOpen bool   `json:"session_open"`
}

// Snapshot returns a point-in-time view of all live workers.
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		infos = append(infos, WorkerInfo{
			Name:        w.name,
			Capacity:    w.bucket.Capacity(),
			Available:   w.bucket.Available(),
			SessionOpen: w.sessionOpen(),
		})
	}
	return infos
}

// Close tears down every remaining worker session. Called once during
// graceful shutdown, after in-flight jobs have drained.
func (p *Pool) Close() {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		if err := w.closeSession(); err != nil {
			p.logger.Warn("closing worker session",
				slog.String("worker", w.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
