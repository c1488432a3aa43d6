package netkit

import (
	"crypto/sha256"
	"encoding/hex"
)

// RequestFingerprint identifies an in-flight request for deduplication
// purposes (spec.md §3 "RequestFingerprint", §9's explicit choice: the
// body is hashed as raw bytes, not re-serialized/normalized JSON, so two
// requests with byte-identical bodies always coalesce and two requests
// with differing key order never silently do).
type RequestFingerprint struct {
	Method   Method
	URL      string
	BodyHash string
}

// NewRequestFingerprint derives a fingerprint from a canonical request.
// Header content never participates: two requests differing only in, say,
// a trace-id header still fingerprint identically (spec.md §4.5).
func NewRequestFingerprint(req CanonicalRequest) RequestFingerprint {
	return RequestFingerprint{
		Method:   req.Method,
		URL:      req.URL,
		BodyHash: hashBody(req.Body),
	}
}

// String renders a stable map/tracker key.
func (f RequestFingerprint) String() string {
	return string(f.Method) + "\x00" + f.URL + "\x00" + f.BodyHash
}

// CacheKey identifies a cacheable response (spec.md §3 "CacheKey"). Only
// idempotent methods (GET, HEAD) ever produce one — see Endpoint.IsCacheEligible.
type CacheKey struct {
	Method Method
	URL    string
}

// NewCacheKey derives a cache key from a canonical request. Returns the
// zero value and false if the request's method is not cache-eligible.
func NewCacheKey(req CanonicalRequest) (CacheKey, bool) {
	if req.Method != MethodGet && req.Method != MethodHead {
		return CacheKey{}, false
	}
	return CacheKey{Method: req.Method, URL: req.URL}, true
}

// String renders a stable cache storage key.
func (k CacheKey) String() string {
	return string(k.Method) + "\x00" + k.URL
}

func hashBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
