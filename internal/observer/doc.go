// Package observer turns host state into events.
//
// Each observer is an independent producer: it polls a probe on a fixed
// interval, diffs the result against what it saw last time and emits an
// event for every new item (and, where the probe supports it, for every
// item that went away). Dedup state is local to the observer. A Group
// runs several observers until their context is cancelled.
//
// The Linux probes read /sys and /proc directly; their roots are
// configurable so tests can point them at a fixture tree.
package observer
