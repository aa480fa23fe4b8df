package alert

import (
	"context"
	"fmt"
)

// EvictionAlerter notifies operators when a worker is permanently
// removed from the pool. It plugs into the hook registry.
type EvictionAlerter struct {
	notifier Notifier
}

// NewEvictionAlerter wraps a Notifier as a worker-eviction hook.
func NewEvictionAlerter(n Notifier) *EvictionAlerter {
	return &EvictionAlerter{notifier: n}
}

// Name identifies the hook in registry logs.
func (a *EvictionAlerter) Name() string { return "eviction-alerter" }

// OnWorkerEvicted sends one notification per eviction. The pool evicts
// a worker at most once, so at most one message goes out per worker.
func (a *EvictionAlerter) OnWorkerEvicted(ctx context.Context, workerName, reason string) error {
	return a.notifier.Notify(ctx, fmt.Sprintf("[%s] %s", workerName, reason))
}
