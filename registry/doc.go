// Package registry defines the call admission core shared by every inbound
// connection handler. A Registry is the single source of truth for which
// call sessions are live and enforces a hard ceiling on how many may run at
// once. A Guard wraps one pass through the admit/retire lifecycle for a
// single connection so that no exit path can leave a stale record behind.
//
// Layers & Roles
//
//	Transport  -> accepts connections, owns one Guard per connection
//	Guard      -> lifecycle contract (admit once, retire exactly once)
//	Registry   -> shared bookkeeping with the concurrency ceiling
//
// Implementations
//
//	memoryregistry : in-process registry used by single-instance deployments and tests
//	redisregistry  : Redis-backed registry sharing one ceiling across instances
//
// The Registry does no I/O of its own beyond what a backend requires; it
// never runs session logic and never retains references to caller state.
package registry
