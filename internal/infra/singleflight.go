// Package infra holds small shared runtime primitives.
package infra

import (
	"sync"
	"sync/atomic"
)

// Group executes units of work with duplicate suppression: only one
// execution is in flight for a given key at a time, and concurrent callers
// for the same key wait for the original and share its result. This is
// similar to golang.org/x/sync/singleflight but with generics.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]

	hits   atomic.Uint64 // calls that shared a result
	misses atomic.Uint64 // calls that executed the function
}

type call[V any] struct {
	wg     sync.WaitGroup
	val    V
	err    error
	shared bool
}

// Do executes and returns the result of fn, making sure that only one
// execution is in flight for key at a time. The third return value reports
// whether the result was shared with another caller.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (V, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}

	if c, ok := g.calls[key]; ok {
		c.shared = true
		g.mu.Unlock()
		g.hits.Add(1)
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := new(call[V])
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()
	g.misses.Add(1)

	g.doCall(c, key, fn)
	return c.val, c.err, c.shared
}

func (g *Group[K, V]) doCall(c *call[V], key K, fn func() (V, error)) {
	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
}

// Forget drops any in-flight record for key so that a future Do executes the
// function again rather than waiting on an earlier call.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

// GroupStats contains counters for a group.
type GroupStats struct {
	Hits   uint64
	Misses uint64
}

// Stats returns the group's hit/miss counters.
func (g *Group[K, V]) Stats() GroupStats {
	return GroupStats{
		Hits:   g.hits.Load(),
		Misses: g.misses.Load(),
	}
}
