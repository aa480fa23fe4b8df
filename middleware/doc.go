// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps the job executor. Middleware
// are composed into a chain using [Chain] and applied around each
// execution attempt. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job id, worker, duration, and outcome at each attempt
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the attempt context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-attempt duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
