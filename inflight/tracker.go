// Package inflight deduplicates concurrent identical requests without
// losing cancellation isolation (spec.md §4.5, component C7).
//
// Design Notes:
//   - Builds directly on golang.org/x/sync/singleflight.Group.DoChan, the
//     library cache-manager/singleflight.go's own doc comment names as the
//     idiomatic alternative to its hand-rolled map[string]*call+WaitGroup.
//     DoChan already gives each caller an independent channel backed by one
//     shared execution, and the shared goroutine it spawns is never bound
//     to any single caller's context — exactly the isolation spec.md §4.5
//     requires.
//   - Role (Creator vs Waiter) is not exposed by singleflight.Result.Shared
//     (that flag is identical for every caller of a given key, so it can't
//     distinguish the first caller from a later joiner). Instead the
//     factory closure sets a per-call local flag the instant it actually
//     runs; singleflight guarantees only the first caller's factory
//     closure is ever invoked, so that flag is a reliable Creator signal
//     once read after the channel receive (channel communication is a
//     happens-before edge, so no extra synchronization is needed).
package inflight

import (
	"context"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Result is the shared outcome of a deduplicated request: status, headers,
// and raw body bytes. Each waiter decodes Body into its own typed response
// independently (spec.md §4.5's "different endpoint types sharing a
// fingerprint" allowance).
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Role reports whether a caller originated the shared work or joined an
// already in-flight call.
type Role int

const (
	// Waiter joined a call already in flight.
	Waiter Role = iota
	// Creator's factory was the one actually executed.
	Creator
)

// Tracker deduplicates concurrent calls sharing a fingerprint.
type Tracker struct {
	group singleflight.Group
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// GetOrCreate executes factory for the first caller with a given
// fingerprint and shares its result with every concurrent caller of the
// same fingerprint. factory must not derive its work from ctx: its
// lifetime is independent of any single caller, so it should be built
// against a deadline/context owned by the pipeline (e.g. the canonical
// request's own deadline), not the individual caller's context. ctx here
// only governs how long *this* caller is willing to wait for the shared
// result; cancelling it returns ctx.Err() without affecting the shared
// call or any other waiter (spec.md §5, §8 invariant 2).
func (t *Tracker) GetOrCreate(ctx context.Context, fingerprint string, factory func() (Result, error)) (Result, Role, error) {
	var executed bool
	ch := t.group.DoChan(fingerprint, func() (interface{}, error) {
		executed = true
		return factory()
	})

	select {
	case <-ctx.Done():
		return Result{}, Waiter, ctx.Err()
	case r := <-ch:
		role := Waiter
		if executed {
			role = Creator
		}
		if r.Err != nil {
			return Result{}, role, r.Err
		}
		return r.Val.(Result), role, nil
	}
}

// Forget removes fingerprint so the next call starts a fresh shared
// execution instead of joining (or racing) a stale one. Mirrors
// cache-manager/singleflight.go's RequestCoalescer.Forget.
func (t *Tracker) Forget(fingerprint string) {
	t.group.Forget(fingerprint)
}
