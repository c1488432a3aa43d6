package netkit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/macward/netkit/cache"
	"github.com/macward/netkit/interceptor"
	"github.com/macward/netkit/pkg/transport"
	"github.com/macward/netkit/retry"
	"github.com/macward/netkit/tokenauth"
)

// fakeTransport replays a fixed sequence of responses, cycling the last
// entry for any call beyond the sequence's length, and records how many
// calls it has received for dedup/retry assertions.
type fakeTransport struct {
	mu    sync.Mutex
	seq   []fakeResponse
	count int
}

type fakeResponse struct {
	status int
	header http.Header
	body   []byte
	err    error
}

func newTransport(seq ...fakeResponse) *fakeTransport {
	return &fakeTransport{seq: seq}
}

func (f *fakeTransport) next() fakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.count
	if idx >= len(f.seq) {
		idx = len(f.seq) - 1
	}
	f.count++
	return f.seq[idx]
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeTransport) Send(ctx context.Context, req *transport.Request, onUpload transport.ProgressFunc) (int, http.Header, []byte, error) {
	r := f.next()
	if r.err != nil {
		return 0, nil, nil, r.err
	}
	header := r.header
	if header == nil {
		header = http.Header{}
	}
	return r.status, header, r.body, nil
}

func (f *fakeTransport) Stream(ctx context.Context, req *transport.Request, onUpload transport.ProgressFunc) (*transport.Response, error) {
	panic("not used by client_test.go")
}

func TestClientRequestRetryThenSucceed(t *testing.T) {
	tr := newTransport(
		fakeResponse{status: 503},
		fakeResponse{status: 503},
		fakeResponse{status: 200, body: []byte(`{"ok":true}`)},
	)

	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.RetryPolicy = retry.NewExponential(50*time.Millisecond, 2, 0)
	c.RetryPolicy.MaxDelay = time.Second
	c.Cache = nil

	type payload struct {
		OK bool `json:"ok"`
	}

	start := time.Now()
	out, err := Request[payload](context.Background(), c, NewEndpoint("/items"))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !out.OK {
		t.Errorf("out.OK = false, want true")
	}
	if got := tr.callCount(); got != 3 {
		t.Errorf("transport calls = %d, want 3", got)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 150ms (50ms + 100ms backoff)", elapsed)
	}
	counters := c.Metrics.Counters()
	if counters.Total != 3 {
		t.Errorf("metrics total = %d, want 3", counters.Total)
	}
	if counters.Failures != 2 || counters.Successes != 1 {
		t.Errorf("metrics failures/successes = %d/%d, want 2/1", counters.Failures, counters.Successes)
	}
}

func TestClientRequestConcurrentDedup(t *testing.T) {
	tr := newTransport(fakeResponse{status: 200, body: []byte(`[{"id":1}]`)})

	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = nil

	type item struct {
		ID int `json:"id"`
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([][]item, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			out, err := Request[[]item](context.Background(), c, NewEndpoint("/users").WithQuery("id", "1"))
			results[i] = out
			errs[i] = err
		}(i)
	}
	wg.Wait()

	if got := tr.callCount(); got != 1 {
		t.Fatalf("transport calls = %d, want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		if len(results[i]) != 1 || results[i][0].ID != 1 {
			t.Errorf("task %d result = %+v, want [{ID:1}]", i, results[i])
		}
	}
	counters := c.Metrics.Counters()
	if counters.Deduplications != n-1 {
		t.Errorf("deduplications = %d, want %d", counters.Deduplications, n-1)
	}
}

func TestClientRequestSharedTokenRefreshOn401(t *testing.T) {
	tr := newTransport(fakeResponse{status: 401})

	var refreshCalls int32
	coordinator := tokenauth.New(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&refreshCalls, 1)
		time.Sleep(30 * time.Millisecond)
		return "new-token", nil
	})
	store := tokenauth.NewTokenStore()

	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = nil
	c.Chain = interceptor.New(
		tokenauth.Interceptor(store),
		tokenauth.RetryOn401(store, coordinator),
	)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := Request[struct{}](context.Background(), c, NewEndpoint("/secure"))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil || !isNetworkErrorKind(err, KindUnauthorized) {
			t.Errorf("task %d: err = %v, want Unauthorized NetworkError", i, err)
		}
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if store.Get() != "new-token" {
		t.Errorf("store token = %q, want new-token", store.Get())
	}
}

func TestClientRequestSanitizesErrorSnapshot(t *testing.T) {
	tr := newTransport(fakeResponse{status: 500})

	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = nil

	ep := NewEndpoint("/x").WithHeader("Authorization", "Bearer abc").WithQuery("token", "xyz")
	_, err := Request[struct{}](context.Background(), c, ep)

	netErr, ok := err.(*NetworkError)
	if !ok {
		t.Fatalf("err type = %T, want *NetworkError", err)
	}
	if netErr.Request == nil {
		t.Fatal("Request snapshot is nil")
	}
	if v, _ := netErr.Request.Headers.Get("Authorization"); v != "[REDACTED]" {
		t.Errorf("Authorization header = %q, want [REDACTED]", v)
	}
	if netErr.Request.URL == "" || !containsRedactedToken(netErr.Request.URL) {
		t.Errorf("Request.URL = %q, want redacted token param", netErr.Request.URL)
	}
}

func TestClientRequestServesFromFreshCache(t *testing.T) {
	tr := newTransport(fakeResponse{
		status: 200,
		header: http.Header{"Cache-Control": []string{"max-age=60"}},
		body:   []byte(`{"ok":true}`),
	})

	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = cache.NewHybrid(cache.NewMemory(10), nil)

	type payload struct {
		OK bool `json:"ok"`
	}
	ep := NewEndpoint("/cached")

	if _, err := Request[payload](context.Background(), c, ep); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	if _, err := Request[payload](context.Background(), c, ep); err != nil {
		t.Fatalf("second Request: %v", err)
	}

	if got := tr.callCount(); got != 1 {
		t.Errorf("transport calls = %d, want 1 (second call should be served from cache)", got)
	}
	counters := c.Metrics.Counters()
	if counters.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", counters.CacheHits)
	}
}

func TestClientRequestRejectsUnexpected204(t *testing.T) {
	tr := newTransport(fakeResponse{status: 204})
	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = nil

	_, err := Request[struct{ X int }](context.Background(), c, NewEndpoint("/empty"))
	if !isNetworkErrorKind(err, KindNoContent) {
		t.Errorf("err = %v, want NoContent", err)
	}
}

func TestClientRequestAllowsEmpty204(t *testing.T) {
	tr := newTransport(fakeResponse{status: 204})
	c := New(NewEnvironment("https://api.example.com"))
	c.Transport = tr
	c.Cache = nil

	ep := NewEndpoint("/empty").WithEmptyResponseAllowed()
	_, err := Request[struct{ X int }](context.Background(), c, ep)
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func isNetworkErrorKind(err error, kind ErrorKind) bool {
	netErr, ok := err.(*NetworkError)
	return ok && netErr.Kind == kind
}

func containsRedactedToken(url string) bool {
	return strings.Contains(url, "token=%5BREDACTED%5D") || strings.Contains(url, "token=[REDACTED]")
}
