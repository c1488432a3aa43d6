package netkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/macward/netkit/cache"
	"github.com/macward/netkit/inflight"
	"github.com/macward/netkit/interceptor"
	"github.com/macward/netkit/metrics"
	"github.com/macward/netkit/pkg/clock"
	"github.com/macward/netkit/pkg/codec"
	"github.com/macward/netkit/pkg/logger"
	"github.com/macward/netkit/pkg/transport"
	"github.com/macward/netkit/retry"
	"github.com/macward/netkit/sanitize"
)

// Client is the pipeline core (spec.md §4.8, C13): it orchestrates the
// request builder, interceptor chain, cache, in-flight tracker, transport,
// and retry policy for every call, directly modeled on
// cachemanager.Service.Get's "L1 check → coalescer → fallback → populate"
// shape, generalized to endpoint → interceptors → cache → dedup →
// transport → interceptors → retry.
type Client struct {
	Environment Environment
	Transport   transport.Transport
	Clock       clock.Clock
	Codec       codec.Codec
	Logger      logger.Logger
	Chain       *interceptor.Chain
	Cache       *cache.Hybrid // nil disables caching entirely
	Inflight    *inflight.Tracker
	RetryPolicy *retry.Policy
	Metrics     *metrics.Collector
	Sanitize    *sanitize.Config
}

// New builds a Client with the given environment and sane defaults for
// every collaborator not explicitly supplied (spec.md §6's
// "NetworkClient(environment, [session/transport], [interceptors],
// [retry_policy], [cache], [metrics_collector])" constructor — here
// expressed as a struct literal with defaulted zero values, which is the
// idiomatic Go substitute for named/optional constructor parameters).
func New(env Environment) *Client {
	return &Client{
		Environment: env,
		Transport:   transport.New(),
		Clock:       clock.New(),
		Codec:       codec.New(),
		Logger:      logger.Nop{},
		Chain:       interceptor.New(),
		Inflight:    inflight.New(),
		RetryPolicy: retry.NewExponential(500*time.Millisecond, 2.0, 0.2),
		Metrics:     metrics.NewCollector(0),
		Sanitize:    sanitize.Default(),
	}
}

// outcome classifies one transport attempt before the decision in spec.md
// §4.8 step f is applied.
type outcome struct {
	status          int
	header          http.Header
	body            []byte
	fromCache       bool
	cacheKey        string
	wasDeduplicated bool
	err             *NetworkError
}

// Request performs the full pipeline for endpoint and decodes the result
// into T (spec.md §6's `request<T>(endpoint) -> T`). T must be a pointer
// or JSON-decodable value type; a 204 response is only accepted when
// endpoint.ResponseAllowsEmpty is true, in which case T's zero value is
// returned.
func Request[T any](ctx context.Context, c *Client, ep Endpoint) (T, error) {
	var zero T
	requestID := uuid.New().String()

	for attempt := 0; attempt <= c.RetryPolicy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, NewCancelledError(attempt, requestID)
		}

		o, retryable, err := c.attempt(ctx, ep, attempt, requestID)
		if err != nil {
			return zero, err
		}
		if o.err != nil {
			if retryable {
				if sleepErr := c.RetryPolicy.Sleep(ctx, attempt); sleepErr != nil {
					return zero, NewCancelledError(attempt, requestID)
				}
				continue
			}
			return zero, o.err
		}

		if o.status == 204 {
			if !ep.ResponseAllowsEmpty {
				return zero, &NetworkError{Kind: KindNoContent, StatusCode: 204, Timestamp: c.Clock.Now(), Attempt: attempt, RequestID: requestID}
			}
			return zero, nil
		}

		var out T
		if len(o.body) > 0 {
			if err := c.Codec.Decode(o.body, &out); err != nil {
				decodeErr := &NetworkError{
					Kind:       KindDecodingFailed,
					StatusCode: o.status,
					Underlying: err,
					Timestamp:  c.Clock.Now(),
					Attempt:    attempt,
					RequestID:  requestID,
				}
				if c.RetryPolicy.Decide(string(KindDecodingFailed), attempt) {
					if sleepErr := c.RetryPolicy.Sleep(ctx, attempt); sleepErr != nil {
						return zero, NewCancelledError(attempt, requestID)
					}
					continue
				}
				return zero, decodeErr
			}
		}
		return out, nil
	}

	return zero, &NetworkError{Kind: KindServerError, Timestamp: c.Clock.Now(), Attempt: c.RetryPolicy.MaxRetries, RequestID: requestID}
}

// attempt runs one full pass of spec.md §4.8 step 2 (a)-(f) and returns
// the classified outcome, whether a failing outcome is retryable, and any
// immediately-fatal (non-retry-eligible) error such as cancellation or
// request-build failure.
func (c *Client) attempt(ctx context.Context, ep Endpoint, attemptIndex int, requestID string) (outcome, bool, error) {
	start := c.Clock.Now()
	canonical, err := BuildRequest(c.Environment, ep, nil, c.Codec, start)
	if err != nil {
		return outcome{}, false, err
	}

	icReq, err := c.Chain.RunRequest(ctx, toInterceptorRequest(canonical))
	if err != nil {
		return outcome{}, false, c.wrapInterceptorError(err, attemptIndex, requestID)
	}
	canonical = applyInterceptorRequest(canonical, icReq)

	cacheKey, cacheEligible := "", false
	if c.Cache != nil && ep.IsCacheEligible() {
		if key, ok := NewCacheKey(canonical); ok {
			cacheKey = key.String()
			cacheEligible = true
			if entry, hit := c.Cache.Get(cacheKey); hit && entry.IsFresh(start) {
				o := outcome{status: entry.Status, header: http.Header(entry.Header), body: entry.Body, fromCache: true, cacheKey: cacheKey}
				c.recordMetrics(ep, start, o, attemptIndex, false)
				return o, false, nil
			} else if hit && entry.IsRevalidatable() {
				if entry.ETag != "" {
					canonical.Headers.Set("If-None-Match", entry.ETag)
				}
				if entry.LastModified != "" {
					canonical.Headers.Set("If-Modified-Since", entry.LastModified)
				}
			}
		}
	}

	fp := NewRequestFingerprint(canonical)
	dedupEligible := ep.IsDedupEligible()

	// The shared call a dedup-eligible send becomes must not be derived
	// from this (the Creator's) ctx: once other callers piggyback on it
	// via c.Inflight, the Creator cancelling its own context must not pull
	// the Send out from under them (inflight.Tracker.GetOrCreate's own
	// doc comment; see tokenauth.Coordinator.runRefresh for the same
	// pattern). Only the deadline carries over, not cancellation.
	sendBaseCtx := ctx
	if dedupEligible {
		sendBaseCtx = context.WithoutCancel(ctx)
	}
	// The send context is released by the send itself when it finishes,
	// not when this attempt returns, for the same reason.
	sendCtx, cancel := context.WithDeadline(sendBaseCtx, canonical.Deadline)

	var reqBody io.Reader
	if len(canonical.Body) > 0 {
		reqBody = &bytesReader{b: canonical.Body}
	}

	send := func() (inflight.Result, error) {
		defer cancel()
		status, header, body, sendErr := c.Transport.Send(sendCtx, &transport.Request{
			Method:  string(canonical.Method),
			URL:     canonical.URL,
			Header:  toHTTPHeader(canonical.Headers),
			Body:    reqBody,
			BodyLen: int64(len(canonical.Body)),
		}, nil)
		if sendErr != nil {
			return inflight.Result{}, sendErr
		}
		return inflight.Result{Status: status, Header: header, Body: body}, nil
	}

	var result inflight.Result
	var sendErr error
	wasDeduplicated := false
	if dedupEligible {
		var role inflight.Role
		result, role, sendErr = c.Inflight.GetOrCreate(ctx, fp.String(), send)
		wasDeduplicated = role == inflight.Waiter
	} else {
		result, sendErr = send()
	}

	if sendErr != nil {
		netErr := classifyTransportError(sendErr, attemptIndex, requestID)
		o := outcome{err: netErr, wasDeduplicated: wasDeduplicated}
		retryable := c.RetryPolicy.Decide(string(netErr.Kind), attemptIndex)
		c.recordMetrics(ep, start, o, attemptIndex, wasDeduplicated)
		return o, retryable, nil
	}

	icResp, err := c.Chain.RunResponse(ctx, interceptor.Response{Status: result.Status, Headers: result.Header, Body: result.Body})
	if err != nil {
		return outcome{}, false, c.wrapInterceptorError(err, attemptIndex, requestID)
	}

	o := outcome{status: icResp.Status, header: http.Header(icResp.Headers), body: icResp.Body, wasDeduplicated: wasDeduplicated, cacheKey: cacheKey}

	if o.status == 304 && cacheEligible {
		if entry, hit := c.Cache.Get(cacheKey); hit {
			entry.ExpiresAt = freshnessFromHeaders(o.header, start, ep.CacheTTL)
			c.Cache.Touch(cacheKey, entry.ExpiresAt)
			o.status = entry.Status
			o.body = entry.Body
			o.header = http.Header(entry.Header)
			o.fromCache = true
			c.recordMetrics(ep, start, o, attemptIndex, wasDeduplicated)
			return o, false, nil
		}
	}

	if kind, isErr := KindForStatus(o.status); isErr && o.status != 204 {
		netErr := &NetworkError{
			Kind:       kind,
			StatusCode: o.status,
			Response:   ptr(NewResponseSnapshot(c.Sanitize, o.status, fromHTTPHeader(o.header), o.body)),
			Request:    ptr(NewRequestSnapshot(c.Sanitize, string(canonical.Method), canonical.URL, canonical.Headers, len(canonical.Body))),
			Timestamp:  c.Clock.Now(),
			Attempt:    attemptIndex,
			RequestID:  requestID,
		}
		o.err = netErr
		retryable := c.RetryPolicy.Decide(string(kind), attemptIndex)
		c.recordMetrics(ep, start, o, attemptIndex, wasDeduplicated)
		return o, retryable, nil
	}

	if cacheEligible && isCacheableResponse(o.status, o.header, ep.CacheTTL) {
		entry := cache.Entry{
			Status:       o.status,
			Header:       o.header,
			Body:         o.body,
			ETag:         o.header.Get("ETag"),
			LastModified: o.header.Get("Last-Modified"),
			StoredAt:     start,
			ExpiresAt:    freshnessFromHeaders(o.header, start, ep.CacheTTL),
		}
		_ = c.Cache.Set(cacheKey, entry)
	}

	c.recordMetrics(ep, start, o, attemptIndex, wasDeduplicated)
	return o, false, nil
}

func (c *Client) recordMetrics(ep Endpoint, start time.Time, o outcome, attempt int, deduplicated bool) {
	c.Metrics.Record(metrics.AttemptRecord{
		Path:            ep.Path,
		Method:          string(ep.Method),
		BaseURL:         c.Environment.BaseURL,
		StartedAt:       start,
		EndedAt:         c.Clock.Now(),
		Status:          o.status,
		Success:         o.err == nil,
		ErrorKind:       errKindString(o.err),
		AttemptIndex:    attempt,
		WasFromCache:    o.fromCache,
		WasDeduplicated: deduplicated,
	})
}

func errKindString(err *NetworkError) string {
	if err == nil {
		return ""
	}
	return string(err.Kind)
}

func (c *Client) wrapInterceptorError(err error, attempt int, requestID string) *NetworkError {
	return &NetworkError{Kind: KindUnknown, Underlying: err, Timestamp: c.Clock.Now(), Attempt: attempt, RequestID: requestID}
}

func classifyTransportError(err error, attempt int, requestID string) *NetworkError {
	kind := KindUnknown
	switch {
	case transport.IsTimeout(err):
		kind = KindTimeout
	case transport.IsNoConnection(err):
		kind = KindNoConnection
	}
	return &NetworkError{Kind: kind, Underlying: err, Timestamp: time.Now(), Attempt: attempt, RequestID: requestID}
}

// isCacheableResponse reports whether a response may be inserted into the
// cache at all (spec.md §4.6: "insertion is allowed only when the response
// declares cacheability: explicit TTL, or Cache-Control: max-age /
// Expires, or endpoint opt-in"). cacheTTL is the endpoint's explicit opt-in
// (Endpoint.CacheTTL); a non-nil value is itself a cacheability signal,
// independent of what the response headers say.
func isCacheableResponse(status int, header http.Header, cacheTTL *time.Duration) bool {
	if status < 200 || status >= 300 {
		return false
	}
	cc := header.Get("Cache-Control")
	if cc == "no-store" || cc == "no-cache" {
		return false
	}
	if cacheTTL != nil {
		return true
	}
	if _, ok := parseMaxAge(cc); ok {
		return true
	}
	return header.Get("Expires") != ""
}

// freshnessFromHeaders derives an expiry from Cache-Control max-age or
// Expires, falling back to the endpoint's explicit CacheTTL opt-in when
// the response carries neither, and to "already stale" (now) when there is
// no freshness signal at all.
func freshnessFromHeaders(header http.Header, now time.Time, cacheTTL *time.Duration) time.Time {
	if maxAge, ok := parseMaxAge(header.Get("Cache-Control")); ok {
		return now.Add(maxAge)
	}
	if exp := header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			return t
		}
	}
	if cacheTTL != nil {
		return now.Add(*cacheTTL)
	}
	return now
}

func parseMaxAge(cacheControl string) (time.Duration, bool) {
	var seconds int
	if _, err := fmt.Sscanf(cacheControl, "max-age=%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

func toInterceptorRequest(req CanonicalRequest) interceptor.Request {
	return interceptor.Request{
		Method:  string(req.Method),
		URL:     req.URL,
		Headers: toHTTPHeader(req.Headers),
		Body:    req.Body,
	}
}

func applyInterceptorRequest(req CanonicalRequest, icReq interceptor.Request) CanonicalRequest {
	req.URL = icReq.URL
	req.Headers = fromHTTPHeaderOrdered(icReq.Headers)
	req.Body = icReq.Body
	return req
}

func toHTTPHeader(m OrderedMap) http.Header {
	h := make(http.Header, len(m))
	for _, p := range m {
		h.Set(p.Key, p.Value)
	}
	return h
}

func fromHTTPHeader(h http.Header) OrderedMap {
	var m OrderedMap
	for k, vs := range h {
		for _, v := range vs {
			m.Set(k, v)
		}
	}
	return m
}

func fromHTTPHeaderOrdered(h map[string][]string) OrderedMap {
	var m OrderedMap
	for k, vs := range h {
		for _, v := range vs {
			m.Set(k, v)
		}
	}
	return m
}

// bytesReader is a minimal io.Reader over a byte slice, used instead of
// bytes.NewReader directly so every request body reader in this file
// shares one small, auditable implementation.
type bytesReader struct {
	b   []byte
	pos int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func ptr[T any](v T) *T { return &v }
