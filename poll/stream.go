// Package poll implements the long-polling async stream (spec.md §4.9): a
// lazy pull sequence of responses with an adaptive, per-error-kind
// reconnection policy. Grounded on warming/worker_pool.go's runWorker
// select-loop and retryTask's backoff-then-retry shape, generalized from
// "retry a failed warm task" into "reconnect per the outcome table below".
package poll

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/macward/netkit/pkg/clock"
)

// Config tunes reconnect timing (spec.md §4.9).
type Config struct {
	PollingTimeout      time.Duration
	RetryInterval       time.Duration
	MaxConsecutiveErrors int
	// Limiter, if set, paces reconnect attempts beyond what RetryInterval
	// already enforces (SPEC_FULL.md's supplemented pacing option).
	Limiter *rate.Limiter
}

// Preset timing tables named in spec.md §4.9.
var (
	Short    = Config{PollingTimeout: 10 * time.Second, RetryInterval: 500 * time.Millisecond, MaxConsecutiveErrors: 10}
	Standard = Config{PollingTimeout: 30 * time.Second, RetryInterval: time.Second, MaxConsecutiveErrors: 5}
	Long     = Config{PollingTimeout: 60 * time.Second, RetryInterval: 2 * time.Second, MaxConsecutiveErrors: 3}
	Realtime = Config{PollingTimeout: 15 * time.Second, RetryInterval: 100 * time.Millisecond, MaxConsecutiveErrors: 20}
)

// Outcome is what one pull attempt produced, classified by the caller
// (the pipeline core knows how to turn a transport result into one of
// these; this package only implements the reconnect policy over them).
type Outcome struct {
	// Kind is "" for a successful pull (HTTP 2xx other than 204), or one
	// of the netkit.ErrorKind string values otherwise. Defined as a plain
	// string (not netkit.ErrorKind) to keep this package free of a
	// dependency on the root package, mirroring retry.Predicate's design.
	Kind       string
	StatusCode int
	Response   interface{}
}

// ShouldContinueFunc decides, for a successful pull, whether the stream
// should keep going (spec.md §4.9 "should_continue(response)").
type ShouldContinueFunc func(resp interface{}) bool

// PullFunc performs one long-poll request with an extended timeout and
// returns its classified outcome.
type PullFunc func(ctx context.Context, timeout time.Duration) (Outcome, error)

// Stream is a lazy, pull-only sequence of successful responses (spec.md
// §4.9, "AsyncStream"/"AsyncSequence" per the glossary).
type Stream struct {
	cfg            Config
	pull           PullFunc
	shouldContinue ShouldContinueFunc
	clk            clock.Clock

	consecutiveErrors int
	done              bool
}

// New constructs a Stream. A nil clk defaults to the real clock.
func New(cfg Config, pull PullFunc, shouldContinue ShouldContinueFunc, clk clock.Clock) *Stream {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg = Standard
	}
	return &Stream{cfg: cfg, pull: pull, shouldContinue: shouldContinue, clk: clk}
}

// Next pulls the next successful response, reconnecting internally per the
// outcome table in spec.md §4.9 until a success yields, the stream
// terminates, or ctx is cancelled. Returns (nil, false, nil) once the
// stream has terminated normally.
func (s *Stream) Next(ctx context.Context) (interface{}, bool, error) {
	for {
		if s.done {
			return nil, false, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Wait(ctx); err != nil {
				return nil, false, err
			}
		}

		outcome, err := s.pull(ctx, s.cfg.PollingTimeout)
		if err != nil {
			return nil, false, err
		}

		if outcome.Kind == "" {
			s.consecutiveErrors = 0
			if !s.shouldContinue(outcome.Response) {
				s.done = true
			}
			return outcome.Response, true, nil
		}

		action, terminate := s.reconnectAction(outcome)
		if terminate {
			s.done = true
			return nil, false, nil
		}

		s.consecutiveErrors++
		if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
			s.done = true
			return nil, false, nil
		}

		if action > 0 {
			if err := s.clk.Sleep(ctx, action); err != nil {
				return nil, false, err
			}
		}
	}
}

// reconnectAction returns the delay before the next pull (0 means
// immediate) and whether the stream should terminate instead, per the
// exact outcome table in spec.md §4.9.
func (s *Stream) reconnectAction(outcome Outcome) (delay time.Duration, terminate bool) {
	// spec.md §4.9 lists "serverError(408)" as its own row even though
	// HTTP 408 generically classifies as clientError (see errors.go's
	// KindForStatus); the 408/immediate-reconnect special case is checked
	// by status code directly, ahead of the general kind switch, to honor
	// both tables without contradicting either (see DESIGN.md open
	// question on this).
	if outcome.StatusCode == 408 {
		return 0, false
	}
	switch outcome.Kind {
	case "timeout":
		return 0, false
	case "noContent":
		return s.cfg.RetryInterval, false
	case "noConnection":
		return 2 * s.cfg.RetryInterval, false
	case "serverError":
		return s.cfg.RetryInterval, false
	case "unauthorized", "forbidden", "notFound", "invalidURL", "encodingFailed", "decodingFailed":
		return 0, true
	default: // "unknown" and any other kind
		return s.cfg.RetryInterval, false
	}
}

// Done reports whether the stream has terminated.
func (s *Stream) Done() bool {
	return s.done
}
