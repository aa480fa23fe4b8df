package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/veldt/outpaint/hook"
	"github.com/veldt/outpaint/job"
)

// recorder implements every hook interface and records calls.
type recorder struct {
	name string

	started   int
	completed int
	failed    int
	retrying  int
	evicted   []string
	sessions  []string
	shutdowns int

	err error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobStarted(context.Context, *job.Job) error {
	r.started++
	return r.err
}

func (r *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	r.completed++
	return r.err
}

func (r *recorder) OnJobFailed(context.Context, *job.Job, error) error {
	r.failed++
	return r.err
}

func (r *recorder) OnJobRetrying(context.Context, *job.Job, int) error {
	r.retrying++
	return r.err
}

func (r *recorder) OnWorkerEvicted(_ context.Context, workerName, reason string) error {
	r.evicted = append(r.evicted, workerName+":"+reason)
	return r.err
}

func (r *recorder) OnSessionOpened(_ context.Context, workerName string) error {
	r.sessions = append(r.sessions, workerName)
	return r.err
}

func (r *recorder) OnShutdown(context.Context) error {
	r.shutdowns++
	return r.err
}

// evictOnly implements only WorkerEvicted.
type evictOnly struct {
	evicted int
}

func (e *evictOnly) Name() string { return "evict-only" }

func (e *evictOnly) OnWorkerEvicted(context.Context, string, string) error {
	e.evicted++
	return nil
}

func TestRegistry_EmitsToRegisteredHooks(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	rec := &recorder{name: "recorder"}
	reg.Register(rec)

	ctx := context.Background()
	j := job.New("a.png")

	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitJobFailed(ctx, j, errors.New("boom"))
	reg.EmitJobRetrying(ctx, j, 2)
	reg.EmitWorkerEvicted(ctx, "w1", "insufficient credit")
	reg.EmitSessionOpened(ctx, "w1")
	reg.EmitShutdown(ctx)

	if rec.started != 1 || rec.completed != 1 || rec.failed != 1 || rec.retrying != 1 {
		t.Errorf("job events = %d/%d/%d/%d, want 1 each",
			rec.started, rec.completed, rec.failed, rec.retrying)
	}
	if len(rec.evicted) != 1 || rec.evicted[0] != "w1:insufficient credit" {
		t.Errorf("evicted = %v, want [w1:insufficient credit]", rec.evicted)
	}
	if len(rec.sessions) != 1 || rec.sessions[0] != "w1" {
		t.Errorf("sessions = %v, want [w1]", rec.sessions)
	}
	if rec.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", rec.shutdowns)
	}
}

func TestRegistry_PartialHookOnlyReceivesItsEvents(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	eo := &evictOnly{}
	reg.Register(eo)

	ctx := context.Background()
	reg.EmitJobStarted(ctx, job.New("a.png"))
	reg.EmitWorkerEvicted(ctx, "w1", "banned")
	reg.EmitWorkerEvicted(ctx, "w2", "banned")

	if eo.evicted != 2 {
		t.Errorf("evicted = %d, want 2", eo.evicted)
	}
}

func TestRegistry_HookErrorDoesNotStopOthers(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	failing := &recorder{name: "failing", err: errors.New("hook broken")}
	healthy := &recorder{name: "healthy"}
	reg.Register(failing)
	reg.Register(healthy)

	reg.EmitJobStarted(context.Background(), job.New("a.png"))

	if failing.started != 1 || healthy.started != 1 {
		t.Errorf("started = %d/%d, want 1/1", failing.started, healthy.started)
	}
}

func TestRegistry_Hooks(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	if len(reg.Hooks()) != 0 {
		t.Fatal("expected empty registry")
	}
	reg.Register(&recorder{name: "a"})
	reg.Register(&evictOnly{})
	if got := len(reg.Hooks()); got != 2 {
		t.Errorf("Hooks() = %d, want 2", got)
	}
}
