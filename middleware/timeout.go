package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/veldt/outpaint/job"
)

// Timeout returns middleware that enforces a per-execution deadline.
// If d is non-zero, a context.WithTimeout wraps the executor call. When
// the deadline is exceeded the context is cancelled and the executor
// should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			logger.Debug("execution timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
