// Package tokenauth coordinates bearer-token refresh across concurrent
// requests that all discover an expired token at once (spec.md §4.9
// "Token refresh coordination"): exactly one refresh runs at a time, and
// every caller waiting on it can independently cancel without affecting
// the others or the in-flight refresh itself.
package tokenauth

import (
	"context"
	"sync"
)

// RefreshFunc performs the actual token refresh (typically an HTTP call to
// an auth endpoint) and returns the new token.
type RefreshFunc func(ctx context.Context) (string, error)

// state is the coordinator's internal machine (spec.md §4.9: idle, or
// refreshing with N waiters).
type state int

const (
	stateIdle state = iota
	stateRefreshing
)

type waiter struct {
	id     uint64
	result chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

// Coordinator serializes concurrent refresh attempts. Unlike
// golang.org/x/sync/singleflight (used elsewhere in this module for
// request deduplication, see inflight.Tracker), a refresh here must let
// any individual waiter abandon the wait via context cancellation without
// disturbing the shared in-flight refresh or any other waiter — singleflight's
// DoChan/Forget have no such per-waiter cancellation, so this state machine
// is hand-rolled instead of reused (see DESIGN.md's tokenauth entry).
type Coordinator struct {
	mu      sync.Mutex
	state   state
	waiters map[uint64]chan refreshResult
	nextID  uint64
	refresh RefreshFunc
}

// New returns a Coordinator that calls refresh to obtain a new token.
func New(refresh RefreshFunc) *Coordinator {
	return &Coordinator{
		waiters: make(map[uint64]chan refreshResult),
		refresh: refresh,
	}
}

// Refresh returns a fresh token, joining an already-in-flight refresh if
// one is running. If ctx is cancelled while waiting, Refresh returns
// ctx.Err() immediately; the underlying refresh (and any other waiter)
// keeps running unaffected.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == stateIdle {
		c.state = stateRefreshing
		c.mu.Unlock()
		return c.runRefresh(ctx)
	}

	id := c.nextID
	c.nextID++
	ch := make(chan refreshResult, 1)
	c.waiters[id] = ch
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return "", ctx.Err()
	case res := <-ch:
		return res.token, res.err
	}
}

// runRefresh is invoked by whichever caller found the coordinator idle; it
// performs the refresh and broadcasts the result to every waiter that
// joined while it ran, using its own background context so a cancellation
// of the triggering caller's ctx does not abort the refresh out from under
// the other waiters.
func (c *Coordinator) runRefresh(ctx context.Context) (string, error) {
	token, err := c.refresh(context.WithoutCancel(ctx))

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint64]chan refreshResult)
	c.state = stateIdle
	c.mu.Unlock()

	result := refreshResult{token: token, err: err}
	for _, ch := range waiters {
		ch <- result
	}

	return token, err
}

// InFlight reports whether a refresh is currently running, useful for
// tests and diagnostics.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRefreshing
}
