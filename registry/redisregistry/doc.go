// Package redisregistry implements registry.Registry on Redis so that a
// horizontally scaled deployment shares a single admission ceiling. The
// count-check-and-insert runs inside a Lua script, which Redis executes
// atomically, giving the same no-over-admission guarantee the in-memory
// registry gets from its mutex.
package redisregistry
