// Package interceptor implements the ordered pre-send / reverse
// post-receive hook chain (spec.md §4.2 "Interceptor chain"). Chain itself
// is transport-agnostic: it operates on the two typed snapshots the
// pipeline core builds around each attempt.
package interceptor

import "context"

// Interceptor observes or rewrites a request before it is sent and a
// response after it is received. Either hook may be nil; a nil OnRequest or
// OnResponse is a pass-through.
type Interceptor struct {
	Name       string
	OnRequest  func(ctx context.Context, req Request) (Request, error)
	OnResponse func(ctx context.Context, resp Response) (Response, error)
}

// Request is the subset of CanonicalRequest an interceptor may inspect or
// rewrite. Defined locally (rather than importing the root package) to
// keep this package free of a dependency on netkit, which itself depends
// on interceptor.
type Request struct {
	Method  string
	URL     string
	Headers map[string][]string
	Body    []byte
}

// Response is the subset of a received response an interceptor may inspect
// or rewrite.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Chain runs a fixed, ordered list of interceptors: OnRequest hooks fire in
// registration order on the way out; OnResponse hooks fire in reverse
// registration order on the way back, so the last interceptor to touch the
// outgoing request is the first to see the incoming response (spec.md
// §4.2's "reverse order on the way back").
type Chain struct {
	interceptors []Interceptor
}

// New builds a Chain from interceptors in the order they should run on the
// request path.
func New(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// RunRequest applies every OnRequest hook in order, short-circuiting on the
// first error.
func (c *Chain) RunRequest(ctx context.Context, req Request) (Request, error) {
	for _, ic := range c.interceptors {
		if ic.OnRequest == nil {
			continue
		}
		var err error
		req, err = ic.OnRequest(ctx, req)
		if err != nil {
			return req, err
		}
		if err := ctx.Err(); err != nil {
			return req, err
		}
	}
	return req, nil
}

// RunResponse applies every OnResponse hook in reverse registration order,
// short-circuiting on the first error.
func (c *Chain) RunResponse(ctx context.Context, resp Response) (Response, error) {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		ic := c.interceptors[i]
		if ic.OnResponse == nil {
			continue
		}
		var err error
		resp, err = ic.OnResponse(ctx, resp)
		if err != nil {
			return resp, err
		}
		if err := ctx.Err(); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
