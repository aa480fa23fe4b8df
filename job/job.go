// Package job defines the unit of work dispatched onto a pooled browser
// session: an immutable input payload plus a mutable lifecycle record.
package job

import (
	"time"

	"github.com/veldt/outpaint/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job has been accepted but not yet dispatched.
	StateQueued State = "queued"
	// StateAcquiring means the dispatcher is waiting for a worker permit.
	StateAcquiring State = "acquiring"
	// StateExecuting means the job is running against a worker's session.
	StateExecuting State = "executing"
	// StateSucceeded means the job finished and produced output.
	StateSucceeded State = "succeeded"
	// StateFailed means the job failed terminally.
	StateFailed State = "failed"
	// StateTimedOut means the job exhausted the overall acquisition
	// deadline before any worker could take it.
	StateTimedOut State = "timed_out"
)

// Job is one image-expansion request flowing through the engine.
// SourceRef and ID are fixed at creation; the rest is lifecycle state
// owned by the engine.
type Job struct {
	ID        id.ID  `json:"id"`
	SourceRef string `json:"source_ref"`

	State       State      `json:"state"`
	Worker      string     `json:"worker,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	OutputRefs  []string   `json:"output_refs,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a queued job for the given source artifact reference.
func New(sourceRef string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id.NewJobID(),
		SourceRef: sourceRef,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	switch j.State {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the job. The tracker stores clones so
// readers never observe in-place mutation by the engine.
func (j *Job) Clone() *Job {
	c := *j
	if j.OutputRefs != nil {
		c.OutputRefs = append([]string(nil), j.OutputRefs...)
	}
	if j.CompletedAt != nil {
		done := *j.CompletedAt
		c.CompletedAt = &done
	}
	return &c
}
