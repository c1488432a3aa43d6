package poll

import (
	"context"
	"testing"
	"time"

	"github.com/macward/netkit/pkg/clock"
)

// fakeClock sleeps instantly but records how many times Sleep was called,
// so reconnect-delay behavior can be asserted without slowing the test.
type fakeClock struct {
	sleeps int
}

func (f *fakeClock) Now() time.Time { return time.Now() }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps++
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ clock.Clock = (*fakeClock)(nil)

// TestS5LongPollReconnect reproduces spec.md's scenario S5: server returns
// 204, 200 msg1, 408, 200 msg2, 500 (×5); with max_consecutive_errors=5 the
// sequence yields msg1, msg2, then terminates after the 5th consecutive 500.
func TestS5LongPollReconnect(t *testing.T) {
	outcomes := []Outcome{
		{Kind: "noContent", StatusCode: 204},
		{Kind: "", Response: "msg1"},
		{Kind: "serverError", StatusCode: 408},
		{Kind: "", Response: "msg2"},
		{Kind: "serverError", StatusCode: 500},
		{Kind: "serverError", StatusCode: 500},
		{Kind: "serverError", StatusCode: 500},
		{Kind: "serverError", StatusCode: 500},
		{Kind: "serverError", StatusCode: 500},
	}
	i := 0
	pull := func(ctx context.Context, timeout time.Duration) (Outcome, error) {
		o := outcomes[i]
		i++
		return o, nil
	}
	fc := &fakeClock{}
	cfg := Config{PollingTimeout: 30 * time.Second, RetryInterval: 10 * time.Millisecond, MaxConsecutiveErrors: 5}
	s := New(cfg, pull, func(interface{}) bool { return true }, fc)

	var yielded []interface{}
	for {
		resp, ok, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		yielded = append(yielded, resp)
	}

	if len(yielded) != 2 || yielded[0] != "msg1" || yielded[1] != "msg2" {
		t.Fatalf("yielded = %v, want [msg1 msg2]", yielded)
	}
	if !s.Done() {
		t.Error("expected stream to be done after 5 consecutive errors")
	}
}

func TestStreamTerminatesOnShouldContinueFalse(t *testing.T) {
	pull := func(ctx context.Context, timeout time.Duration) (Outcome, error) {
		return Outcome{Kind: "", Response: "final"}, nil
	}
	s := New(Standard, pull, func(interface{}) bool { return false }, &fakeClock{})

	resp, ok, err := s.Next(context.Background())
	if err != nil || !ok || resp != "final" {
		t.Fatalf("resp=%v ok=%v err=%v", resp, ok, err)
	}
	if !s.Done() {
		t.Error("expected stream done after should_continue returned false")
	}

	_, ok, err = s.Next(context.Background())
	if err != nil || ok {
		t.Errorf("expected terminated stream to yield (false, nil), got ok=%v err=%v", ok, err)
	}
}

func TestStreamTerminatesOnUnauthorized(t *testing.T) {
	pull := func(ctx context.Context, timeout time.Duration) (Outcome, error) {
		return Outcome{Kind: "unauthorized", StatusCode: 401}, nil
	}
	s := New(Standard, pull, func(interface{}) bool { return true }, &fakeClock{})

	_, ok, err := s.Next(context.Background())
	if err != nil || ok {
		t.Fatalf("expected termination, got ok=%v err=%v", ok, err)
	}
	if !s.Done() {
		t.Error("expected Done() after unauthorized")
	}
}

func TestStreamTimeoutReconnectsImmediately(t *testing.T) {
	calls := 0
	pull := func(ctx context.Context, timeout time.Duration) (Outcome, error) {
		calls++
		if calls == 1 {
			return Outcome{Kind: "timeout"}, nil
		}
		return Outcome{Kind: "", Response: "ok"}, nil
	}
	fc := &fakeClock{}
	s := New(Standard, pull, func(interface{}) bool { return true }, fc)

	resp, ok, err := s.Next(context.Background())
	if err != nil || !ok || resp != "ok" {
		t.Fatalf("resp=%v ok=%v err=%v", resp, ok, err)
	}
	if fc.sleeps != 0 {
		t.Errorf("timeout should reconnect immediately, but slept %d times", fc.sleeps)
	}
}

func TestStreamRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pull := func(ctx context.Context, timeout time.Duration) (Outcome, error) {
		t.Fatal("pull should not be invoked on an already-cancelled context")
		return Outcome{}, nil
	}
	s := New(Standard, pull, func(interface{}) bool { return true }, &fakeClock{})

	_, _, err := s.Next(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
