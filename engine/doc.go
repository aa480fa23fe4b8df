// Package engine drives jobs through the worker pool to completion.
//
// A Run loops three phases until the job is terminal: acquire a permit
// from the pool, execute one attempt on the leased worker's browser
// session, and evaluate the outcome against the health policy. The
// executor reports each attempt as one of four outcome kinds:
//
//   - success: outputs were produced, the job is done
//   - retryable: the attempt failed, try again on any worker
//   - unhealthy: the worker is unfit, evict it and retry elsewhere
//   - fatal: no worker can ever succeed, fail the job with its code
//
// Eviction is permanent for the process lifetime. The policy also
// evicts on a low account balance even when the attempt itself
// succeeded, so a draining account is drained no further.
//
// # Building an Engine
//
//	eng := engine.New(pool, provisioner, executor, logger,
//	    engine.WithHooks(hooks),
//	    engine.WithMiddleware(middleware.Recover(logger), middleware.Logging(logger)),
//	    engine.WithPolicy(engine.Policy{CreditThreshold: 15}),
//	)
//
//	refs, err := eng.Run(ctx, job.New("/images/input.png"))
package engine
