package transfer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPrefetchManyRunsAllTasks(t *testing.T) {
	var count int32
	tasks := make([]PrefetchTask, 5)
	for i := range tasks {
		tasks[i] = PrefetchTask{Key: "k", Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}}
	}
	results := PrefetchMany(context.Background(), tasks, 2)
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestPrefetchManyCapturesPerTaskErrors(t *testing.T) {
	boom := errors.New("boom")
	tasks := []PrefetchTask{
		{Key: "ok", Fetch: func(ctx context.Context) error { return nil }},
		{Key: "fail", Fetch: func(ctx context.Context) error { return boom }},
	}
	results := PrefetchMany(context.Background(), tasks, 0)

	byKey := map[string]error{}
	for _, r := range results {
		byKey[r.Key] = r.Err
	}
	if byKey["ok"] != nil {
		t.Errorf("ok task err = %v, want nil", byKey["ok"])
	}
	if !errors.Is(byKey["fail"], boom) {
		t.Errorf("fail task err = %v, want boom", byKey["fail"])
	}
}
