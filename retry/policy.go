// Package retry implements the bounded exponential backoff policy of
// spec.md §4.4: deciding whether a failed attempt should be retried, and
// computing the delay before the next attempt.
//
// Design Notes:
//   - Mirrors warming/worker_pool.go's retryTask backoff computation
//     (base * 2^attempt, plus jitter) but as a reusable, pluggable policy
//     object instead of a hardcoded loop, so the predicate and strategy can
//     both be swapped by the caller.
//   - An optional golang.org/x/time/rate.Limiter paces the aggregate retry
//     rate across all in-flight requests sharing a Policy, the same role
//     warming.Service's rateLimiter plays for origin protection.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Strategy selects how delay grows between attempts.
type Strategy int

const (
	// Immediate retries with no delay.
	Immediate Strategy = iota
	// Fixed retries after a constant delay.
	Fixed
	// Exponential retries after base * multiplier^attempt, jittered and capped.
	Exponential
)

// DefaultMaxDelay is the hard cap on computed delay (spec.md §4.4).
const DefaultMaxDelay = 60 * time.Second

// DefaultMaxRetries is the default attempt budget (spec.md §4.4).
const DefaultMaxRetries = 3

// Predicate decides whether a given error kind should be retried at the
// given 0-based attempt index. kind is a string to avoid an import cycle
// with the root package; callers pass netkit.ErrorKind values converted to
// string, or use DefaultPredicate's equivalent logic directly.
type Predicate func(kind string, attempt int) bool

// Policy computes retry decisions and delays.
type Policy struct {
	Strategy    Strategy
	Base        time.Duration
	Multiplier  float64
	Jitter      float64 // in [0,1]
	MaxDelay    time.Duration
	MaxRetries  int
	ShouldRetry Predicate
	Limiter     *rate.Limiter // optional; paces the aggregate retry rate

	// rand is overridable for deterministic tests.
	rand func() float64
}

// NewExponential builds an exponential backoff policy. Panics if base is
// non-positive, mirroring the teacher's constructor-invariant panic style
// (pkg/middleware/ratelimit.go's NewTokenBucket).
func NewExponential(base time.Duration, multiplier, jitter float64) *Policy {
	if base <= 0 {
		panic("retry: base must be positive")
	}
	if jitter < 0 || jitter > 1 {
		panic("retry: jitter must be in [0,1]")
	}
	return &Policy{
		Strategy:    Exponential,
		Base:        base,
		Multiplier:  multiplier,
		Jitter:      jitter,
		MaxDelay:    DefaultMaxDelay,
		MaxRetries:  DefaultMaxRetries,
		ShouldRetry: DefaultPredicate,
	}
}

// NewFixed builds a constant-delay policy.
func NewFixed(delay time.Duration) *Policy {
	return &Policy{
		Strategy:    Fixed,
		Base:        delay,
		MaxDelay:    DefaultMaxDelay,
		MaxRetries:  DefaultMaxRetries,
		ShouldRetry: DefaultPredicate,
	}
}

// NewImmediate builds a no-delay policy.
func NewImmediate() *Policy {
	return &Policy{
		Strategy:    Immediate,
		MaxDelay:    DefaultMaxDelay,
		MaxRetries:  DefaultMaxRetries,
		ShouldRetry: DefaultPredicate,
	}
}

// DefaultPredicate retries server-side/transport failures while attempts
// remain, per spec.md §4.4's default retry-or-surface decision.
func DefaultPredicate(kind string, attempt int) bool {
	if attempt >= DefaultMaxRetries {
		return false
	}
	switch kind {
	case "timeout", "noConnection", "serverError", "badGateway", "serviceUnavailable", "gatewayTimeout":
		return true
	default:
		return false
	}
}

// Decide reports whether attempt (0-based) should be retried given kind,
// honoring both the policy's own MaxRetries and its ShouldRetry predicate.
func (p *Policy) Decide(kind string, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	predicate := p.ShouldRetry
	if predicate == nil {
		predicate = DefaultPredicate
	}
	return predicate(kind, attempt)
}

// Delay computes the delay before attempt n (0-based), per spec.md §4.4:
// min(base * multiplier^n, maxDelay), optionally jittered by +/-(delay*jitter)
// then clamped to [0, maxDelay]. multiplier^n is computed in floating point
// and saturated (via math.Inf handling) before the clamp, for overflow
// safety on large n.
func (p *Policy) Delay(n int) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	var base float64
	switch p.Strategy {
	case Immediate:
		return 0
	case Fixed:
		return clampDuration(p.Base, maxDelay)
	case Exponential:
		multiplier := p.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		factor := math.Pow(multiplier, float64(n))
		if math.IsInf(factor, 1) || math.IsNaN(factor) {
			factor = math.MaxFloat64
		}
		base = float64(p.Base) * factor
		if math.IsInf(base, 1) || math.IsNaN(base) || base > float64(maxDelay) {
			base = float64(maxDelay)
		}
	default:
		base = float64(p.Base)
	}

	delay := time.Duration(base)
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		randFn := p.rand
		if randFn == nil {
			randFn = rand.Float64
		}
		offset := (randFn()*2 - 1) * spread
		delay = time.Duration(float64(delay) + offset)
	}

	return clampDuration(delay, maxDelay)
}

func clampDuration(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}

// Sleep waits for the computed delay before attempt n, or returns ctx.Err()
// if ctx is cancelled first. If a Limiter is configured, it is also
// consulted so the aggregate retry rate across all callers stays bounded.
// This implements spec.md §4.8's "retry sleep is fully cancellable".
func (p *Policy) Sleep(ctx context.Context, n int) error {
	delay := p.Delay(n)
	if p.Limiter != nil {
		if err := p.Limiter.WaitN(ctx, 1); err != nil {
			return err
		}
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
