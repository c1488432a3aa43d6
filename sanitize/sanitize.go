// Package sanitize redacts sensitive fields from headers, query strings, and
// JSON request/response bodies before they reach logs or error snapshots
// (spec.md §4.3).
//
// Design Notes:
//   - Matching is case-insensitive for header and query keys, and matches
//     both snake_case and camelCase spellings for JSON body fields, per
//     spec.md's default key lists.
//   - Body redaction walks decoded JSON recursively through objects and
//     arrays; it is skipped entirely above a size cap or for non-JSON
//     content types, matching the logging interceptor's own 10 KiB body
//     inspection cap (spec.md §4.2).
package sanitize

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Redacted is the literal replacement value for sensitive fields (spec.md §4.3).
const Redacted = "[REDACTED]"

// maxBodyInspectSize bounds recursive JSON body redaction; larger bodies are
// left untouched rather than risk large CPU/memory cost on every log line.
const maxBodyInspectSize = 10 * 1024

// Config enumerates the sensitive key sets for the three redaction contexts.
type Config struct {
	Headers []string
	Query   []string
	Body    []string
}

// Default returns the default sensitive-key configuration from spec.md §4.3.
func Default() *Config {
	return &Config{
		Headers: []string{
			"authorization", "x-api-key", "api-key", "x-auth-token", "cookie",
			"set-cookie", "x-csrf-token", "x-xsrf-token", "proxy-authorization",
			"x-access-token",
		},
		Query: []string{
			"token", "api_key", "apikey", "password", "secret", "access_token",
			"refresh_token", "auth", "key", "credential",
		},
		Body: []string{
			"password", "secret", "token", "api_key", "apiKey", "access_token",
			"accessToken", "refresh_token", "refreshToken", "credential",
			"credentials", "private_key", "privateKey",
		},
	}
}

// None disables redaction entirely; useful for local debugging builds.
func None() *Config {
	return &Config{}
}

// Strict returns a superset of Default with a handful of additional fields
// commonly seen in internal APIs.
func Strict() *Config {
	c := Default()
	c.Headers = append(c.Headers, "x-session-token", "x-internal-token")
	c.Query = append(c.Query, "session", "session_token", "signature")
	c.Body = append(c.Body, "session_token", "sessionToken", "signature", "otp")
	return c
}

func containsFold(list []string, key string) bool {
	for _, item := range list {
		if strings.EqualFold(item, key) {
			return true
		}
	}
	return false
}

// IsSensitiveHeader reports whether name matches a sensitive header key.
func (c *Config) IsSensitiveHeader(name string) bool {
	if c == nil {
		return false
	}
	return containsFold(c.Headers, name)
}

// IsSensitiveQueryKey reports whether name matches a sensitive query key.
func (c *Config) IsSensitiveQueryKey(name string) bool {
	if c == nil {
		return false
	}
	return containsFold(c.Query, name)
}

// IsSensitiveBodyField reports whether name matches a sensitive JSON body
// field, comparing literally (case-sensitive) since JSON field names are
// case-sensitive by convention; both snake_case and camelCase spellings are
// listed explicitly in the config rather than folded.
func (c *Config) IsSensitiveBodyField(name string) bool {
	if c == nil {
		return false
	}
	for _, item := range c.Body {
		if item == name {
			return true
		}
	}
	return false
}

// RedactURL parses rawURL and replaces the value of any sensitive query
// parameter with Redacted, leaving the rest of the URL untouched. If rawURL
// fails to parse, it is returned unchanged (there is nothing structured to
// redact).
func (c *Config) RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.RawQuery == "" {
		return rawURL
	}
	values := u.Query()
	changed := false
	for key := range values {
		if c.IsSensitiveQueryKey(key) {
			for i := range values[key] {
				values[key][i] = Redacted
			}
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = values.Encode()
	return u.String()
}

// RedactJSONBody redacts sensitive fields from a JSON-encoded body. It is a
// no-op (returns the input unchanged) when body exceeds maxBodyInspectSize,
// contentType is not application/json, or the body fails to parse as JSON.
func (c *Config) RedactJSONBody(contentType string, body []byte) []byte {
	if len(body) == 0 || len(body) > maxBodyInspectSize {
		return body
	}
	if !isJSONContentType(contentType) {
		return body
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	redacted := c.redactValue(doc)
	out, err := json.Marshal(redacted)
	if err != nil {
		return body
	}
	return out
}

func isJSONContentType(contentType string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		mediaType = contentType[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(mediaType), "application/json")
}

func (c *Config) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if c.IsSensitiveBodyField(k) {
				out[k] = Redacted
				continue
			}
			out[k] = c.redactValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = c.redactValue(child)
		}
		return out
	default:
		return val
	}
}
