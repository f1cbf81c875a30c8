// Package resourcepool implements a generic reusable-resource stack with
// RAII hand-back. It is grounded on the same pop-or-init, reset-then-wrap
// discipline jackc/puddle/v2 (pulled in transitively through pgxpool)
// uses for pgx connections, generalized to any T: the core pools
// acquired Connections across a TestDatabaseInstance's setup/test calls,
// which is not specific to any one driver's connection type.
package resourcepool

import (
	"context"
	"sync"
)

// Pool is a LIFO stack of reusable T, kept hot by always popping and
// pushing the most recently used element.
type Pool[T any] struct {
	mu    sync.Mutex
	stack []T

	init  func(ctx context.Context) (T, error)
	reset func(ctx context.Context, t T) (T, error)
}

// New builds a Pool. init constructs a fresh T when the stack is empty;
// reset is run on every popped T before it is handed back out.
func New[T any](init func(ctx context.Context) (T, error), reset func(ctx context.Context, t T) (T, error)) *Pool[T] {
	return &Pool[T]{init: init, reset: reset}
}

// Reusable is a scoped wrapper whose Release pushes its T back onto
// the stack it came from, unless Discard consumed it first. Nothing
// returns it automatically; callers call Release, typically via defer.
type Reusable[T any] struct {
	pool     *Pool[T]
	data     *T
	mu       sync.Mutex
	consumed bool
}

// Acquire pops one slot under a short-critical-section lock, runs reset
// (if popped) or init (if the stack was empty) outside the lock, then
// wraps the result in a Reusable.
func (p *Pool[T]) Acquire(ctx context.Context) (*Reusable[T], error) {
	p.mu.Lock()
	n := len(p.stack)
	var popped T
	var hadPopped bool
	if n > 0 {
		popped = p.stack[n-1]
		p.stack = p.stack[:n-1]
		hadPopped = true
	}
	p.mu.Unlock()

	var value T
	var err error
	if hadPopped {
		value, err = p.reset(ctx, popped)
	} else {
		value, err = p.init(ctx)
	}
	if err != nil {
		return nil, err
	}

	v := value
	return &Reusable[T]{pool: p, data: &v}, nil
}

// Value returns the wrapped resource.
func (r *Reusable[T]) Value() T {
	return *r.data
}

// Release pushes the resource back onto the stack; a second call, or a
// call after Discard, is a no-op.
func (r *Reusable[T]) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed || r.data == nil {
		return
	}
	r.pool.mu.Lock()
	r.pool.stack = append(r.pool.stack, *r.data)
	r.pool.mu.Unlock()
	r.consumed = true
	r.data = nil
}

// Discard drops the resource without returning it to the pool, for
// callers that determined the resource is no longer reusable (e.g. a
// connection that failed IsValid).
func (r *Reusable[T]) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = true
	r.data = nil
}

// Size reports the number of idle resources currently parked in the
// stack; used by tests asserting Reusable never deposits twice.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}
