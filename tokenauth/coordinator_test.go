package tokenauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	proceed := make(chan struct{})

	c := New(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-proceed
		return "new-token", nil
	})

	const n = 10
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background())
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond) // let the other 9 queue as waiters
	close(proceed)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("refresh invoked %d times, want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error %v", i, err)
		}
		if results[i] != "new-token" {
			t.Errorf("caller %d: token = %q, want new-token", i, results[i])
		}
	}
}

func TestRefreshSequentialCallsEachRun(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "token", nil
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("refresh invoked %d times, want 3", got)
	}
}

func TestWaiterCancellationDoesNotAffectOthers(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	c := New(func(ctx context.Context) (string, error) {
		close(started)
		<-proceed
		return "token", nil
	})

	cancelCtx, cancel := context.WithCancel(context.Background())

	var triggerErr error
	go func() {
		_, triggerErr = c.Refresh(context.Background())
	}()
	<-started

	cancelledResult := make(chan error, 1)
	go func() {
		_, err := c.Refresh(cancelCtx)
		cancelledResult <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-cancelledResult:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled waiter err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(proceed)
	time.Sleep(10 * time.Millisecond)
	if triggerErr != nil {
		t.Errorf("triggering refresh failed: %v", triggerErr)
	}
}

func TestRefreshSurvivesTriggeringCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan string, 1)
	c := New(func(ctx context.Context) (string, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return "token", nil
	})

	triggerCtx, cancel := context.WithCancel(context.Background())
	go func() {
		token, err := c.Refresh(triggerCtx)
		if err == nil {
			finished <- token
		}
	}()
	<-started
	cancel() // cancelling the triggering caller must not abort the refresh itself

	select {
	case token := <-finished:
		if token != "token" {
			t.Errorf("token = %q, want token", token)
		}
	case <-time.After(time.Second):
		t.Fatal("refresh never completed despite triggering caller's cancellation")
	}
}
