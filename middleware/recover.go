package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/veldt/outpaint/job"
)

// Recover returns middleware that recovers from panics in the executor chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job executor panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("worker", j.Worker),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in job %s: %v", j.ID.String(), r)
			}
		}()
		return next(ctx)
	}
}
