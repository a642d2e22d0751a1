// Package scoped implements a scoped-resource abstraction: every resource
// acquired during create/run (a mount, a jail, an epair, a firewall rule, a
// working directory) registers a teardown closure with a Registry; the
// registry guarantees the closures run exactly once, in strict
// reverse-registration (LIFO) order, on every exit path including failure.
//
// This generalizes a single process-wide forward-order at-exit list into an
// explicit, instantiable, LIFO registry with a "run now" escape hatch for
// unmounting something mid-pipeline without waiting for final teardown.
package scoped

import "sync"

// Resource binds a single teardown closure to an owning scope.
type Resource struct {
	name string
	fn   func() error
	mu   sync.Mutex
	done bool
}

// New records fn without running it. name is used only for diagnostics when
// teardown fails.
func New(name string, fn func() error) *Resource {
	return &Resource{name: name, fn: fn}
}

// RunNow invokes fn immediately (if it has not already run) and marks the
// resource inert so a later Registry teardown does not invoke it again.
func (r *Resource) RunNow() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	return r.fn()
}

// Name reports the diagnostic name this resource was registered with.
func (r *Resource) Name() string { return r.name }

// Registry is an ordered list of Resources. Push order is acquisition order;
// Teardown runs them in reverse.
type Registry struct {
	mu        sync.Mutex
	resources []*Resource
}

// Push registers fn under name and returns the Resource so callers may also
// invoke RunNow early (e.g. to unmount something mid-pipeline without
// waiting for the final teardown).
func (reg *Registry) Push(name string, fn func() error) *Resource {
	r := New(name, fn)
	reg.mu.Lock()
	reg.resources = append(reg.resources, r)
	reg.mu.Unlock()
	return r
}

// Teardown invokes every not-yet-run resource's closure in strict LIFO
// order. A failure in one teardown is collected but does not skip
// subsequent teardowns. It returns a TeardownError aggregating every
// failure, or nil if all resources tore down cleanly.
func (reg *Registry) Teardown() error {
	reg.mu.Lock()
	resources := make([]*Resource, len(reg.resources))
	copy(resources, reg.resources)
	reg.mu.Unlock()

	var failures []Failure
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if err := r.RunNow(); err != nil {
			failures = append(failures, Failure{Name: r.Name(), Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &TeardownError{Failures: failures}
}
