// Package guard provides Cell, a lock around a single value that may be
// re-acquired by the owner currently holding it.
//
// Go has no goroutine identity, so reentrancy is keyed by an owner token
// supplied by the caller rather than by the calling thread. Any
// comparable value works as a token; pointers to per-holder structs are
// the usual choice. Two holders must never share a token.
//
// Cell does not poison. A critical section is expected to release its
// guard with defer, so a panic unwinding through it releases the lock
// and later acquisitions proceed normally. Whatever partial state the
// panicking code left in the protected value stays there; containing
// such failures is the caller's responsibility.
package guard

import (
	"context"
	"sync"
)

// Cell guards one value of type T.
type Cell[T any] struct {
	sem chan struct{}

	mu    sync.Mutex // protects owner and depth
	owner any
	depth int

	value T
}

// New returns a Cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{
		sem:   make(chan struct{}, 1),
		value: v,
	}
}

// Guard is the accessor returned by a successful lock. It grants access
// to the cell's value until Unlock.
type Guard[T any] struct {
	cell     *Cell[T]
	owner    any
	released bool
}

// Lock acquires the cell for owner, blocking while another owner holds
// it. If owner already holds the cell, Lock returns immediately and the
// hold depth is incremented.
func (c *Cell[T]) Lock(owner any) *Guard[T] {
	g, _ := c.LockContext(context.Background(), owner)
	return g
}

// LockContext is Lock but gives up with ctx.Err() when ctx is done
// before the cell becomes free.
func (c *Cell[T]) LockContext(ctx context.Context, owner any) (*Guard[T], error) {
	if owner == nil {
		panic("guard: nil owner")
	}
	if c.reenter(owner) {
		return &Guard[T]{cell: c, owner: owner}, nil
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	c.owner = owner
	c.depth = 1
	c.mu.Unlock()
	return &Guard[T]{cell: c, owner: owner}, nil
}

// TryLock acquires the cell for owner if that is possible without
// blocking.
func (c *Cell[T]) TryLock(owner any) (*Guard[T], bool) {
	if owner == nil {
		panic("guard: nil owner")
	}
	if c.reenter(owner) {
		return &Guard[T]{cell: c, owner: owner}, true
	}
	select {
	case c.sem <- struct{}{}:
	default:
		return nil, false
	}
	c.mu.Lock()
	c.owner = owner
	c.depth = 1
	c.mu.Unlock()
	return &Guard[T]{cell: c, owner: owner}, true
}

func (c *Cell[T]) reenter(owner any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth > 0 && c.owner == owner {
		c.depth++
		return true
	}
	return false
}

func (c *Cell[T]) unlock(owner any) {
	c.mu.Lock()
	if c.depth == 0 || c.owner != owner {
		c.mu.Unlock()
		panic("guard: unlock of cell not held by owner")
	}
	c.depth--
	if c.depth > 0 {
		c.mu.Unlock()
		return
	}
	c.owner = nil
	c.mu.Unlock()
	<-c.sem
}

// Release drops every level of hold that owner has on the cell and
// returns how many levels were dropped. Outstanding guards of owner
// become inert.
func (c *Cell[T]) Release(owner any) int {
	c.mu.Lock()
	if c.depth == 0 || c.owner != owner {
		c.mu.Unlock()
		return 0
	}
	n := c.depth
	c.depth = 0
	c.owner = nil
	c.mu.Unlock()
	<-c.sem
	return n
}

// Holder returns the current owner, or nil when the cell is free.
func (c *Cell[T]) Holder() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Depth returns how many times the current owner holds the cell.
func (c *Cell[T]) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// Value returns the guarded value.
func (g *Guard[T]) Value() T {
	return g.cell.value
}

// Set replaces the guarded value.
func (g *Guard[T]) Set(v T) {
	g.cell.value = v
}

// Unlock releases one level of the hold. Calling Unlock more than once
// on the same guard is a no-op.
func (g *Guard[T]) Unlock() {
	if g.released {
		return
	}
	g.released = true
	g.cell.mu.Lock()
	stale := g.cell.depth == 0 || g.cell.owner != g.owner
	g.cell.mu.Unlock()
	if stale {
		// the owner was released wholesale
		return
	}
	g.cell.unlock(g.owner)
}
