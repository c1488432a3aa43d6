package netkit

import "time"

// Method is an HTTP verb (spec.md §3 "Endpoint").
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// IsSafeRead reports whether m is a safe, idempotent read method eligible
// for automatic deduplication and cacheability (spec.md §4.5, §4.6).
func (m Method) IsSafeRead() bool {
	return m == MethodGet || m == MethodHead
}

// DedupPolicy controls whether an endpoint's requests participate in the
// in-flight tracker (spec.md §4.5).
type DedupPolicy int

const (
	// DedupAutomatic dedups GET/HEAD requests only.
	DedupAutomatic DedupPolicy = iota
	// DedupAlways dedups regardless of method.
	DedupAlways
	// DedupNever bypasses the tracker entirely.
	DedupNever
)

// Endpoint is an immutable, value-typed description of one call (spec.md
// §3 "Endpoint"). Construct with NewEndpoint and the With* builder methods,
// each of which returns a modified copy.
type Endpoint struct {
	Path            string
	Method          Method
	Headers         OrderedMap
	Query           OrderedMap
	Body            interface{}
	DedupPolicy     DedupPolicy
	CacheTTL        *time.Duration
	TimeoutOverride *time.Duration

	// ResponseAllowsEmpty controls whether a 204 response is acceptable for
	// this endpoint's response type (spec.md §4.8 step f, "NoContent").
	// Endpoints decoding into a pointer type or an explicit "no body"
	// marker should set this to true.
	ResponseAllowsEmpty bool
}

// NewEndpoint builds a GET endpoint at path with DedupAutomatic policy.
func NewEndpoint(path string) Endpoint {
	return Endpoint{Path: path, Method: MethodGet}
}

// WithMethod returns a copy of e with Method set.
func (e Endpoint) WithMethod(m Method) Endpoint {
	e.Method = m
	return e
}

// WithHeader returns a copy of e with header key=value appended/overridden.
func (e Endpoint) WithHeader(key, value string) Endpoint {
	e.Headers = e.Headers.Clone()
	e.Headers.Set(key, value)
	return e
}

// WithQuery returns a copy of e with query parameter key=value appended in
// declaration order (spec.md §4.1).
func (e Endpoint) WithQuery(key, value string) Endpoint {
	e.Query = append(e.Query.Clone(), Pair{Key: key, Value: value})
	return e
}

// WithBody returns a copy of e with an encodable body attached.
func (e Endpoint) WithBody(body interface{}) Endpoint {
	e.Body = body
	return e
}

// WithDedupPolicy returns a copy of e with the dedup policy set.
func (e Endpoint) WithDedupPolicy(p DedupPolicy) Endpoint {
	e.DedupPolicy = p
	return e
}

// WithCacheTTL returns a copy of e that opts into caching with the given TTL.
func (e Endpoint) WithCacheTTL(ttl time.Duration) Endpoint {
	e.CacheTTL = &ttl
	return e
}

// WithTimeout returns a copy of e with a per-endpoint timeout override.
func (e Endpoint) WithTimeout(d time.Duration) Endpoint {
	e.TimeoutOverride = &d
	return e
}

// WithEmptyResponseAllowed returns a copy of e that tolerates a 204 response.
func (e Endpoint) WithEmptyResponseAllowed() Endpoint {
	e.ResponseAllowsEmpty = true
	return e
}

// IsDedupEligible reports whether e's requests should be routed through the
// in-flight tracker, per spec.md §4.5's eligibility rule.
func (e Endpoint) IsDedupEligible() bool {
	switch e.DedupPolicy {
	case DedupAlways:
		return true
	case DedupNever:
		return false
	default: // DedupAutomatic
		return e.Method.IsSafeRead()
	}
}

// IsCacheEligible reports whether e's responses may participate in the
// response cache at all: true for GET and HEAD only (spec.md §3
// "CacheKey"). Whether a given response is stored is decided separately,
// from its status and headers and from CacheTTL.
func (e Endpoint) IsCacheEligible() bool {
	return e.Method == MethodGet || e.Method == MethodHead
}

// Environment describes shared defaults for a family of endpoints (spec.md
// §3 "Environment").
type Environment struct {
	BaseURL        string
	DefaultHeaders OrderedMap
	DefaultTimeout time.Duration
}

// DefaultEnvironmentTimeout is spec.md §3's default of 30 seconds.
const DefaultEnvironmentTimeout = 30 * time.Second

// NewEnvironment builds an Environment with DefaultEnvironmentTimeout.
func NewEnvironment(baseURL string) Environment {
	return Environment{BaseURL: baseURL, DefaultTimeout: DefaultEnvironmentTimeout}
}

// WithDefaultHeader returns a copy of env with a default header set.
func (env Environment) WithDefaultHeader(key, value string) Environment {
	env.DefaultHeaders = env.DefaultHeaders.Clone()
	env.DefaultHeaders.Set(key, value)
	return env
}

// WithDefaultTimeout returns a copy of env with DefaultTimeout set.
func (env Environment) WithDefaultTimeout(d time.Duration) Environment {
	env.DefaultTimeout = d
	return env
}
