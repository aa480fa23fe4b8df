// Package pool implements the worker pool and dispatcher: an ordered,
// shrink-only collection of browser-session workers with round-robin
// selection, per-worker permit buckets, bounded-blocking acquisition,
// and permanent eviction of unhealthy workers.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/veldt/outpaint/ratelimit"
	"github.com/veldt/outpaint/session"
)

// Worker is one externally provisioned, stateful automation session
// managed by the pool. A worker present in the pool is assumed healthy;
// unhealthy workers are removed, never marked in place.
type Worker struct {
	name       string
	externalID string
	bucket     *ratelimit.Bucket

	// sessMu serializes lazy session establishment so concurrent first
	// use provisions exactly once. A failed open leaves sess nil and is
	// retried on the next use.
	sessMu sync.Mutex
	sess   *session.Session
}

// NewWorker creates a worker with its own permit bucket and no session.
func NewWorker(name, externalID string, bucket *ratelimit.Bucket) *Worker {
	return &Worker{
		name:       name,
		externalID: externalID,
		bucket:     bucket,
	}
}

// Name returns the worker's stable identity.
func (w *Worker) Name() string { return w.name }

// ExternalID returns the identifier the session provisioner understands.
func (w *Worker) ExternalID() string { return w.externalID }

// Bucket returns the worker's permit bucket.
func (w *Worker) Bucket() *ratelimit.Bucket { return w.bucket }

// Session returns the worker's cached session handle, opening it through
// prov on first use. The returned bool reports whether this call opened
// the session.
func (w *Worker) Session(ctx context.Context, prov session.Provisioner) (*session.Session, bool, error) {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()

	if w.sess != nil {
		return w.sess, false, nil
	}

	s, err := prov.Open(ctx, w.externalID)
	if err != nil {
		return nil, false, fmt.Errorf("pool: open session for worker %s: %w", w.name, err)
	}
	w.sess = s
	return s, true, nil
}

// closeSession tears down the cached session, if any.
func (w *Worker) closeSession() error {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()

	if w.sess == nil {
		return nil
	}
	err := w.sess.Close()
	w.sess = nil
	return err
}

// sessionOpen reports whether a session handle is currently cached.
func (w *Worker) sessionOpen() bool {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	return w.sess != nil
}
