package engine

import (
	"context"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/job"
	"github.com/veldt/outpaint/session"
)

// Kind classifies the result of a single execution attempt.
type Kind int

const (
	// KindSuccess means the job produced its outputs.
	KindSuccess Kind = iota

	// KindRetryable means the attempt failed in a way that another worker
	// (or the same worker later) may succeed at. The engine re-acquires
	// and retries until the job deadline.
	KindRetryable

	// KindUnhealthy means the worker itself is unfit to serve further
	// jobs. The engine evicts it from the pool and retries the job on
	// another worker.
	KindUnhealthy

	// KindFatal means the job can never succeed regardless of worker.
	// The engine fails the job immediately with the outcome's code.
	KindFatal
)

// String returns a short label for logs.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindUnhealthy:
		return "unhealthy"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one execution attempt on one worker.
type Outcome struct {
	Kind Kind

	// OutputRefs holds the produced artifact references on success.
	OutputRefs []string

	// Reason describes the failure for logging and, for KindUnhealthy,
	// becomes the eviction reason.
	Reason string

	// Code is the error code reported to callers for KindFatal.
	// Zero means outpaint.CodeInternal.
	Code int

	// Credit is the account balance observed during the attempt.
	// Only meaningful when CreditKnown is true.
	Credit      int
	CreditKnown bool
}

// Success builds a successful outcome carrying output references.
func Success(refs ...string) Outcome {
	return Outcome{Kind: KindSuccess, OutputRefs: refs}
}

// Retryable builds an outcome that sends the job back to acquisition.
func Retryable(reason string) Outcome {
	return Outcome{Kind: KindRetryable, Reason: reason}
}

// Unhealthy builds an outcome that evicts the worker and retries the job.
func Unhealthy(reason string) Outcome {
	return Outcome{Kind: KindUnhealthy, Reason: reason}
}

// Fatal builds an outcome that fails the job with the given code.
func Fatal(code int, reason string) Outcome {
	return Outcome{Kind: KindFatal, Code: code, Reason: reason}
}

// Err converts a fatal outcome into the error returned to the caller.
// It returns nil for non-fatal outcomes.
func (o Outcome) Err() error {
	if o.Kind != KindFatal {
		return nil
	}
	code := o.Code
	if code == 0 {
		code = outpaint.CodeInternal
	}
	return outpaint.NewError(code, o.Reason)
}

// Executor performs one attempt of a job on a provisioned session.
// Implementations drive the remote browser through the session handle
// and report what happened through the Outcome.
type Executor interface {
	Execute(ctx context.Context, sess *session.Session, j *job.Job) Outcome
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, sess *session.Session, j *job.Job) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, sess *session.Session, j *job.Job) Outcome {
	return f(ctx, sess, j)
}
