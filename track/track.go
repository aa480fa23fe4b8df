// Package track keeps the in-memory record of every job the engine
// has seen. Jobs live only for the process lifetime; there is no
// persistence layer behind the tracker.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/id"
	"github.com/veldt/outpaint/job"
)

// Tracker is a concurrency-safe in-memory job registry.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{jobs: make(map[string]*job.Job)}
}

// Put records a job. An existing record with the same ID is replaced.
func (t *Tracker) Put(j *job.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[j.ID.String()] = j.Clone()
}

// Get retrieves a copy of a job by ID. Callers may mutate the returned
// job without racing with the tracker.
func (t *Tracker) Get(jobID id.ID) (*job.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	j, ok := t.jobs[jobID.String()]
	if !ok {
		return nil, outpaint.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Update applies fn to the stored job under the tracker's lock and
// stamps UpdatedAt. It returns ErrJobNotFound for unknown IDs.
func (t *Tracker) Update(jobID id.ID, fn func(*job.Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID.String()]
	if !ok {
		return outpaint.ErrJobNotFound
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByState returns copies of all jobs in the given state, ordered by
// creation time.
func (t *Tracker) ListByState(state job.State) []*job.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*job.Job, 0)
	for _, j := range t.jobs {
		if j.State == state {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// Counts returns the number of tracked jobs per state.
func (t *Tracker) Counts() map[job.State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[job.State]int)
	for _, j := range t.jobs {
		counts[j.State]++
	}
	return counts
}

// Len returns the total number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}
