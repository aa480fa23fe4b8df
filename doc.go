// Package outpaint provides a dispatch engine for running image-expansion
// jobs against a small, fixed pool of externally provisioned browser
// automation sessions.
//
// Each worker in the pool wraps one remote browser profile: a session
// handle that is expensive to open, rate limited by the provider, and
// subject to being permanently revoked mid-operation (credit exhaustion,
// account suspension). The engine selects workers round-robin, enforces a
// per-worker permit bucket with bounded blocking, opens and caches session
// handles lazily, and permanently evicts workers that report unhealthy
// signals.
//
// # Architecture
//
// Subsystems are composed bottom-up: ratelimit (permit bucket) → pool
// (worker records, round-robin dispatcher, eviction) → engine (executor
// contract, retry state machine, eviction policy). Around the core sit
// session (provisioner client and CDP handles), hook (lifecycle events),
// alert (eviction notifications), track (in-memory job registry), and api
// (HTTP front door).
//
// The pool is a single-process, in-memory structure. Workers are loaded
// from configuration at startup and only ever removed afterwards; an
// evicted worker is never re-admitted for the lifetime of the process.
package outpaint
