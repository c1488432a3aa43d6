package netkit

import "testing"

func TestRequestFingerprintIgnoresHeaders(t *testing.T) {
	a := CanonicalRequest{
		Method:  MethodGet,
		URL:     "https://api.example.com/widgets",
		Headers: OrderedMap{{Key: "X-Trace", Value: "one"}},
	}
	b := a
	b.Headers = OrderedMap{{Key: "X-Trace", Value: "two"}}

	if NewRequestFingerprint(a) != NewRequestFingerprint(b) {
		t.Error("fingerprints differ despite only headers differing")
	}
}

func TestRequestFingerprintDistinguishesBody(t *testing.T) {
	a := CanonicalRequest{Method: MethodPost, URL: "https://api.example.com/widgets", Body: []byte(`{"a":1}`)}
	b := a
	b.Body = []byte(`{"a":2}`)

	if NewRequestFingerprint(a) == NewRequestFingerprint(b) {
		t.Error("fingerprints match despite differing bodies")
	}
}

func TestRequestFingerprintDistinguishesMethodAndURL(t *testing.T) {
	base := CanonicalRequest{Method: MethodGet, URL: "https://api.example.com/widgets"}
	diffMethod := base
	diffMethod.Method = MethodPost
	diffURL := base
	diffURL.URL = "https://api.example.com/gadgets"

	if NewRequestFingerprint(base) == NewRequestFingerprint(diffMethod) {
		t.Error("fingerprints match despite differing methods")
	}
	if NewRequestFingerprint(base) == NewRequestFingerprint(diffURL) {
		t.Error("fingerprints match despite differing URLs")
	}
}

func TestNewCacheKeyOnlyForIdempotentMethods(t *testing.T) {
	get := CanonicalRequest{Method: MethodGet, URL: "https://api.example.com/widgets"}
	if _, ok := NewCacheKey(get); !ok {
		t.Error("expected GET to be cache-eligible")
	}

	head := CanonicalRequest{Method: MethodHead, URL: "https://api.example.com/widgets"}
	if _, ok := NewCacheKey(head); !ok {
		t.Error("expected HEAD to be cache-eligible")
	}

	post := CanonicalRequest{Method: MethodPost, URL: "https://api.example.com/widgets"}
	if _, ok := NewCacheKey(post); ok {
		t.Error("expected POST to be cache-ineligible")
	}
}

func TestCacheKeyStringStability(t *testing.T) {
	k1, _ := NewCacheKey(CanonicalRequest{Method: MethodGet, URL: "https://api.example.com/widgets"})
	k2, _ := NewCacheKey(CanonicalRequest{Method: MethodGet, URL: "https://api.example.com/widgets"})
	if k1.String() != k2.String() {
		t.Error("identical requests produced differing cache key strings")
	}
}
