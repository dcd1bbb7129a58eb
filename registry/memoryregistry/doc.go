// Package memoryregistry provides the in-process implementation of
// registry.Registry. One mutex guards the record map and the ceiling so the
// count-check-and-insert in Admit is a single critical section. It is the
// implementation single-instance deployments and tests use.
package memoryregistry
