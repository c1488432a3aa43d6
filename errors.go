package netkit

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/macward/netkit/sanitize"
)

// ErrorKind is a stable tag identifying the category of a failed request
// (spec.md §6, "Error kinds").
type ErrorKind string

const (
	KindInvalidURL         ErrorKind = "invalidURL"
	KindNoConnection       ErrorKind = "noConnection"
	KindTimeout            ErrorKind = "timeout"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindForbidden          ErrorKind = "forbidden"
	KindNotFound           ErrorKind = "notFound"
	KindNoContent          ErrorKind = "noContent"
	KindRateLimited        ErrorKind = "rateLimited"
	KindBadGateway         ErrorKind = "badGateway"
	KindServiceUnavailable ErrorKind = "serviceUnavailable"
	KindGatewayTimeout     ErrorKind = "gatewayTimeout"
	KindServerError        ErrorKind = "serverError"
	KindClientError        ErrorKind = "clientError"
	KindDecodingFailed     ErrorKind = "decodingFailed"
	KindEncodingFailed     ErrorKind = "encodingFailed"
	KindCancelled          ErrorKind = "cancelled"
	KindUnknown            ErrorKind = "unknown"
)

// KindForStatus maps an HTTP status code to its ErrorKind per spec.md §6.
// Returns ("", false) for codes below 400 other than 204, which maps to
// KindNoContent (callers should only consult this for non-2xx, non-304
// outcomes, or handle 204 themselves).
func KindForStatus(status int) (ErrorKind, bool) {
	switch status {
	case 401:
		return KindUnauthorized, true
	case 403:
		return KindForbidden, true
	case 404:
		return KindNotFound, true
	case 204:
		return KindNoContent, true
	case 429:
		return KindRateLimited, true
	case 502:
		return KindBadGateway, true
	case 503:
		return KindServiceUnavailable, true
	case 504:
		return KindGatewayTimeout, true
	}
	switch {
	case status >= 500:
		return KindServerError, true
	case status >= 400:
		return KindClientError, true
	}
	return "", false
}

// RequestSnapshot is a sanitized, immutable record of an outgoing request
// captured at error time (spec.md §7).
type RequestSnapshot struct {
	URL       string
	Method    string
	Headers   OrderedMap
	BodySize  int
}

// ResponseSnapshot is a sanitized, immutable record of a received response
// captured at error time (spec.md §7). Body is truncated to 512 bytes at a
// valid UTF-8 boundary.
type ResponseSnapshot struct {
	Status        int
	Headers       OrderedMap
	BodyPreview   string
	TotalBodySize int
}

const responseSnapshotPreviewLimit = 512

// NewRequestSnapshot builds a sanitized snapshot of a canonical request.
func NewRequestSnapshot(san *sanitize.Config, method, url string, headers OrderedMap, bodySize int) RequestSnapshot {
	return RequestSnapshot{
		URL:      san.RedactURL(url),
		Method:   method,
		Headers:  sanitizeHeaders(san, headers),
		BodySize: bodySize,
	}
}

// NewResponseSnapshot builds a sanitized snapshot of a received response,
// truncating the body preview to a valid UTF-8 boundary within 512 bytes.
func NewResponseSnapshot(san *sanitize.Config, status int, headers OrderedMap, body []byte) ResponseSnapshot {
	preview := body
	truncated := len(body) > responseSnapshotPreviewLimit
	if truncated {
		preview = body[:responseSnapshotPreviewLimit]
		for len(preview) > 0 && !utf8.Valid(preview) {
			preview = preview[:len(preview)-1]
		}
	}
	return ResponseSnapshot{
		Status:        status,
		Headers:       sanitizeHeaders(san, headers),
		BodyPreview:   string(preview),
		TotalBodySize: len(body),
	}
}

func sanitizeHeaders(san *sanitize.Config, headers OrderedMap) OrderedMap {
	out := headers.Clone()
	for i := range out {
		if san.IsSensitiveHeader(out[i].Key) {
			out[i].Value = sanitize.Redacted
		}
	}
	return out
}

// NetworkError is the unified failure type surfaced by the pipeline
// (spec.md §3 "NetworkError", §7).
type NetworkError struct {
	Kind       ErrorKind
	StatusCode int
	Request    *RequestSnapshot
	Response   *ResponseSnapshot
	Underlying error
	Timestamp  time.Time
	Attempt    int
	RequestID  string
}

func (e *NetworkError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("netkit: %s (attempt %d): %v", e.Kind, e.Attempt, e.Underlying)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("netkit: %s (status %d, attempt %d)", e.Kind, e.StatusCode, e.Attempt)
	}
	return fmt.Sprintf("netkit: %s (attempt %d)", e.Kind, e.Attempt)
}

func (e *NetworkError) Unwrap() error {
	return e.Underlying
}

// Is compares two NetworkErrors ignoring Timestamp and comparing Underlying
// only by error-domain identity (errors.Is), per spec.md §3's equality
// invariant on NetworkError.
func (e *NetworkError) Is(target error) bool {
	other, ok := target.(*NetworkError)
	if !ok {
		return false
	}
	if e.Kind != other.Kind || e.StatusCode != other.StatusCode || e.Attempt != other.Attempt {
		return false
	}
	if (e.Underlying == nil) != (other.Underlying == nil) {
		return false
	}
	if e.Underlying != nil && !errors.Is(e.Underlying, other.Underlying) && !errors.Is(other.Underlying, e.Underlying) {
		return false
	}
	return true
}

// IsRetryableKind reports whether kind is one of the kinds the default
// retry predicate considers retryable (spec.md §4.4).
func IsRetryableKind(kind ErrorKind) bool {
	switch kind {
	case KindTimeout, KindNoConnection, KindServerError, KindBadGateway, KindServiceUnavailable, KindGatewayTimeout:
		return true
	default:
		return false
	}
}

// NewCancelledError builds the error surfaced when a cancellation signal
// fires at any suspension point (spec.md §4.8 "Cancellation").
func NewCancelledError(attempt int, requestID string) *NetworkError {
	return &NetworkError{
		Kind:      KindCancelled,
		Timestamp: time.Now(),
		Attempt:   attempt,
		RequestID: requestID,
	}
}
