package netkit

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/macward/netkit/pkg/codec"
)

// CanonicalRequest is the resolved, ready-to-send request built once per
// attempt (spec.md §3 "CanonicalRequest"). Interceptors may produce a
// modified copy; the original is never mutated in place.
type CanonicalRequest struct {
	URL      string
	Method   Method
	Headers  OrderedMap
	Body     []byte
	Deadline time.Time
}

// Clone returns an independent copy safe to hand to an interceptor.
func (r CanonicalRequest) Clone() CanonicalRequest {
	r.Headers = r.Headers.Clone()
	if r.Body != nil {
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		r.Body = body
	}
	return r
}

// BuildRequest merges an Environment and Endpoint into a CanonicalRequest
// (spec.md §4.1):
//   - URL = base_url joined with path, query items appended in declaration
//     order.
//   - Headers: environment defaults < endpoint headers < caller overrides.
//   - Timeout: endpoint override, else environment default.
//   - Body: JSON-encoded via codec if present; Content-Type defaults to
//     application/json unless already set.
func BuildRequest(env Environment, ep Endpoint, overrides OrderedMap, c codec.Codec, now time.Time) (CanonicalRequest, error) {
	resolvedURL, err := joinURL(env.BaseURL, ep.Path, ep.Query)
	if err != nil {
		return CanonicalRequest{}, &NetworkError{
			Kind:       KindInvalidURL,
			Underlying: err,
			Timestamp:  now,
		}
	}

	headers := MergeOver(env.DefaultHeaders, ep.Headers)
	headers = MergeOver(headers, overrides)

	var body []byte
	if ep.Body != nil {
		encoded, err := c.Encode(ep.Body)
		if err != nil {
			return CanonicalRequest{}, &NetworkError{
				Kind:       KindEncodingFailed,
				Underlying: err,
				Timestamp:  now,
			}
		}
		body = encoded
		if _, ok := headers.Get("Content-Type"); !ok {
			headers.Set("Content-Type", c.ContentType())
		}
	}

	timeout := env.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultEnvironmentTimeout
	}
	if ep.TimeoutOverride != nil {
		timeout = *ep.TimeoutOverride
	}

	return CanonicalRequest{
		URL:      resolvedURL,
		Method:   ep.Method,
		Headers:  headers,
		Body:     body,
		Deadline: now.Add(timeout),
	}, nil
}

func joinURL(baseURL, path string, query OrderedMap) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}

	rel, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}

	resolved := base.ResolveReference(rel)

	if len(query) > 0 {
		var buf strings.Builder
		if resolved.RawQuery != "" {
			buf.WriteString(resolved.RawQuery)
		}
		for _, p := range query {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(p.Key))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(p.Value))
		}
		resolved.RawQuery = buf.String()
	}

	return resolved.String(), nil
}
