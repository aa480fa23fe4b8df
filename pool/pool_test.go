package pool_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/backoff"
	"github.com/veldt/outpaint/pool"
	"github.com/veldt/outpaint/ratelimit"
	"github.com/veldt/outpaint/session"
)

func newTestPool(t *testing.T, specs []pool.Spec, opts ...pool.Option) *pool.Pool {
	t.Helper()
	opts = append([]pool.Option{
		pool.WithAcquireTimeout(time.Second),
		pool.WithRetryBackoff(backoff.NewConstant(5 * time.Millisecond)),
	}, opts...)
	return pool.New(specs, slog.Default(), opts...)
}

func twoWorkerSpecs(capacity int) []pool.Spec {
	return []pool.Spec{
		{Name: "w1", ExternalID: "p1", Capacity: capacity},
		{Name: "w2", ExternalID: "p2", Capacity: capacity},
	}
}

func TestAcquire_RoundRobinFairness(t *testing.T) {
	p := newTestPool(t, twoWorkerSpecs(8))

	counts := map[string]int{}
	var leases []*pool.Lease
	for range 8 {
		w, lease, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		counts[w.Name()]++
		leases = append(leases, lease)
	}

	// Over M consecutive acquisitions with no evictions, every worker is
	// selected at least floor(M / poolSize) times.
	if counts["w1"] < 4 || counts["w2"] < 4 {
		t.Errorf("unfair selection: %v, want at least 4 each", counts)
	}
	for _, l := range leases {
		l.Release()
	}
}

// Scenario: five concurrent jobs over two workers of capacity two, with
// instantaneous success. All five complete undisturbed.
func TestAcquire_FiveConcurrentJobsAcrossTwoWorkers(t *testing.T) {
	p := newTestPool(t, twoWorkerSpecs(2),
		pool.WithAcquireTimeout(5*time.Second))

	var done atomic.Int64
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, lease, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer lease.Release()
			done.Add(1)
		}()
	}
	wg.Wait()

	if done.Load() != 5 {
		t.Errorf("completed = %d, want 5", done.Load())
	}
	if p.Len() != 2 {
		t.Errorf("pool size = %d, want 2 (no evictions)", p.Len())
	}
	for _, info := range p.Snapshot() {
		if info.Available != info.Capacity {
			t.Errorf("worker %s: available = %d, want %d", info.Name, info.Available, info.Capacity)
		}
	}
}

// Scenario: an evicted worker is never selected again, even while a job
// acquired on it is still in flight; its permit still releases.
func TestEvict_Monotonic(t *testing.T) {
	p := newTestPool(t, twoWorkerSpecs(2))

	// Take a permit on w1 before evicting it.
	var w1 *pool.Worker
	var inFlight *pool.Lease
	for {
		w, lease, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if w.Name() == "w1" {
			w1, inFlight = w, lease
			break
		}
		lease.Release()
	}

	if !p.Evict(w1, "insufficient credit") {
		t.Fatal("evict should report removal")
	}
	if p.Len() != 1 {
		t.Fatalf("pool size = %d, want 1", p.Len())
	}

	// Second eviction of the same worker is a no-op.
	if p.Evict(w1, "insufficient credit") {
		t.Error("second evict of same worker should report false")
	}

	// No subsequent acquisition returns w1.
	for range 10 {
		w, lease, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if w.Name() == "w1" {
			t.Fatal("acquired evicted worker")
		}
		lease.Release()
	}

	// The in-flight permit still releases into w1's own bucket.
	inFlight.Release()
	if got := w1.Bucket().Available(); got != w1.Bucket().Capacity() {
		t.Errorf("evicted worker bucket available = %d, want %d", got, w1.Bucket().Capacity())
	}
}

// Scenario: all buckets saturated and never freed. Acquire fails with
// ErrAcquireTimeout after the configured deadline rather than hanging.
func TestAcquire_TimesOutWhenSaturated(t *testing.T) {
	p := newTestPool(t, twoWorkerSpecs(1),
		pool.WithAcquireTimeout(50*time.Millisecond))

	var held []*pool.Lease
	for range 2 {
		_, lease, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("saturating acquire failed: %v", err)
		}
		held = append(held, lease)
	}

	start := time.Now()
	_, _, err := p.Acquire(context.Background())
	if !errors.Is(err, outpaint.ErrAcquireTimeout) {
		t.Fatalf("err = %v, want ErrAcquireTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("acquire took %v, expected prompt timeout", elapsed)
	}
	for _, l := range held {
		l.Release()
	}
}

// Scenario: eviction empties the pool. The next acquire fails
// immediately with ErrPoolExhausted, not a retry loop.
func TestAcquire_PoolExhausted(t *testing.T) {
	p := newTestPool(t, twoWorkerSpecs(1),
		pool.WithAcquireTimeout(time.Hour))

	// Evict everything.
	for {
		w, lease, err := p.Acquire(context.Background())
		if err != nil {
			break
		}
		lease.Release()
		p.Evict(w, "banned")
		if p.Len() == 0 {
			break
		}
	}

	start := time.Now()
	_, _, err := p.Acquire(context.Background())
	if !errors.Is(err, outpaint.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("exhausted acquire took %v, want immediate failure", elapsed)
	}
}

func TestAcquire_RespectsContextCancellation(t *testing.T) {
	p := newTestPool(t, []pool.Spec{{Name: "w1", ExternalID: "p1", Capacity: 1}},
		pool.WithAcquireTimeout(time.Hour),
		pool.WithRetryBackoff(backoff.NewConstant(10*time.Millisecond)))

	_, lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("saturating acquire failed: %v", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = p.Acquire(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestNew_NilLoggerDefaults(t *testing.T) {
	p := pool.New([]pool.Spec{{Name: "w1", ExternalID: "p1", Capacity: 1}}, nil,
		pool.WithAcquireTimeout(50*time.Millisecond),
		pool.WithRetryBackoff(backoff.NewConstant(5*time.Millisecond)))

	w, lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer lease.Release()

	// Contended acquisition and eviction both log; neither may panic
	// when no logger was supplied.
	if _, _, err := p.Acquire(context.Background()); !errors.Is(err, outpaint.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if !p.Evict(w, "unhealthy") {
		t.Fatal("expected eviction to succeed")
	}
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, []pool.Spec{{Name: "w1", ExternalID: "p1", Capacity: 2}})

	w, lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	lease.Release()
	lease.Release()
	lease.Release()

	if got := w.Bucket().Available(); got != 2 {
		t.Errorf("available = %d, want 2 (double release must not over-credit)", got)
	}
}

// countingProvisioner counts Open calls and returns inert sessions.
type countingProvisioner struct {
	opens atomic.Int64
	delay time.Duration
}

func (c *countingProvisioner) Open(ctx context.Context, externalID string) (*session.Session, error) {
	c.opens.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &session.Session{}, nil
}

func (c *countingProvisioner) Close(context.Context, string) error { return nil }

func (c *countingProvisioner) List(context.Context) ([]session.Profile, error) { return nil, nil }

func TestWorker_SessionProvisionedExactlyOnce(t *testing.T) {
	w := pool.NewWorker("w1", "p1", ratelimit.New(1, 0))
	prov := &countingProvisioner{delay: 10 * time.Millisecond}

	const concurrent = 8
	var wg sync.WaitGroup
	var opened atomic.Int64
	sessions := make([]*session.Session, concurrent)

	for i := range concurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, created, err := w.Session(context.Background(), prov)
			if err != nil {
				t.Errorf("session failed: %v", err)
				return
			}
			if created {
				opened.Add(1)
			}
			sessions[i] = s
		}()
	}
	wg.Wait()

	if got := prov.opens.Load(); got != 1 {
		t.Errorf("provisioner opens = %d, want 1", got)
	}
	if got := opened.Load(); got != 1 {
		t.Errorf("created flags = %d, want 1", got)
	}
	for i := 1; i < concurrent; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent first use returned different session handles")
		}
	}
}
