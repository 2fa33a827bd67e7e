/*Package dispatch provides an ordered registry of event handlers.

A Registry holds handlers of one family (configuration, image, camera event)
in registration order and invokes them synchronously, on the goroutine that
calls Dispatch.  Registration mirrors the usual camera SDK contract:

	Append      adds the handler to the end of the chain
	ReplaceAll  empties the chain first, then adds the handler

Each entry also records who owns the handler.  When the registry owns it,
the handler is released (its Release method is called, if it has one) when
it is removed from the chain or when the registry is cleared.

Registering the same handler twice produces two entries, and the handler
is called twice per dispatch.  Use Contains to guard against that.
*/
package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

// Mode selects how a handler is added to the chain
type Mode int

const (
	// Append adds the handler after the ones already registered
	Append Mode = iota

	// ReplaceAll removes every registered handler, then adds the new one
	ReplaceAll
)

func (m Mode) String() string {
	switch m {
	case Append:
		return "Append"
	case ReplaceAll:
		return "ReplaceAll"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Ownership records who is responsible for releasing a handler
type Ownership int

const (
	// CallerOwns leaves the handler alone when it leaves the registry
	CallerOwns Ownership = iota

	// RegistryOwns releases the handler when it is removed or the registry is cleared
	RegistryOwns
)

// Policy controls what happens when a handler fails during Dispatch
type Policy int

const (
	// AbortOnError stops the dispatch at the first failing handler and
	// returns its error.  Later handlers are not invoked for that event.
	AbortOnError Policy = iota

	// ContinueOnError invokes every handler and returns all failures joined
	ContinueOnError
)

// Releaser is implemented by handlers that hold resources and want to be
// told when a registry that owns them lets go
type Releaser interface {
	Release()
}

// HandlerError is returned by Dispatch when a handler fails
type HandlerError struct {
	// Index is the position of the failing handler in the chain
	Index int

	// Err is what the handler returned
	Err error
}

// Error satisfies the error interface
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d: %v", e.Index, e.Err)
}

// Unwrap exposes the handler's error to errors.Is and errors.As
func (e *HandlerError) Unwrap() error {
	return e.Err
}

type entry[H comparable] struct {
	h   H
	own Ownership
}

// Registry is an ordered, concurrent safe list of handlers.  The zero value
// is ready to use and aborts dispatch on the first error.
type Registry[H comparable] struct {
	mu      sync.Mutex
	entries []entry[H]

	// Policy is read at the start of every Dispatch.  Change it with
	// SetPolicy once the registry is shared.
	Policy Policy
}

// New returns a registry using the given failure policy
func New[H comparable](p Policy) *Registry[H] {
	return &Registry[H]{Policy: p}
}

// SetPolicy changes the failure policy for later dispatches
func (r *Registry[H]) SetPolicy(p Policy) {
	r.mu.Lock()
	r.Policy = p
	r.mu.Unlock()
}

// Register adds h to the chain according to mode.  ReplaceAll releases any
// registry-owned handlers it removes.
func (r *Registry[H]) Register(h H, mode Mode, own Ownership) {
	var dropped []entry[H]
	r.mu.Lock()
	if mode == ReplaceAll {
		dropped = r.entries
		r.entries = nil
	}
	r.entries = append(r.entries, entry[H]{h: h, own: own})
	r.mu.Unlock()
	release(dropped)
}

// Deregister removes the first entry holding h.  It is a no-op if h is not
// registered and reports whether anything was removed.
func (r *Registry[H]) Deregister(h H) bool {
	return r.DeregisterFunc(func(x H) bool { return x == h })
}

// DeregisterFunc removes the first entry for which match returns true
func (r *Registry[H]) DeregisterFunc(match func(H) bool) bool {
	r.mu.Lock()
	for i, e := range r.entries {
		if match(e.h) {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			r.mu.Unlock()
			release([]entry[H]{e})
			return true
		}
	}
	r.mu.Unlock()
	return false
}

// Contains reports whether h is registered at least once
func (r *Registry[H]) Contains(h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.h == h {
			return true
		}
	}
	return false
}

// Len returns the number of entries, duplicates included
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Handlers returns a copy of the chain in invocation order
func (r *Registry[H]) Handlers() []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]H, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.h
	}
	return out
}

// Clear empties the registry, releasing every registry-owned handler
func (r *Registry[H]) Clear() {
	r.mu.Lock()
	dropped := r.entries
	r.entries = nil
	r.mu.Unlock()
	release(dropped)
}

// Dispatch calls fn once per entry, in registration order.  fn runs without
// the registry lock held, on a snapshot of the chain taken when Dispatch
// starts, so handlers may register or deregister while being dispatched.
func (r *Registry[H]) Dispatch(fn func(H) error) error {
	r.mu.Lock()
	snapshot := make([]H, len(r.entries))
	for i, e := range r.entries {
		snapshot[i] = e.h
	}
	policy := r.Policy
	r.mu.Unlock()

	var errs []error
	for i, h := range snapshot {
		err := fn(h)
		if err == nil {
			continue
		}
		herr := &HandlerError{Index: i, Err: err}
		if policy == AbortOnError {
			return herr
		}
		errs = append(errs, herr)
	}
	return errors.Join(errs...)
}

func release[H comparable](entries []entry[H]) {
	for _, e := range entries {
		if e.own != RegistryOwns {
			continue
		}
		if rel, ok := any(e.h).(Releaser); ok {
			rel.Release()
		}
	}
}
