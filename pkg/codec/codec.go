// Package codec provides the opaque JSON encode/decode contract spec.md §1
// names as an external collaborator, with a default encoding/json-backed
// implementation.
package codec

import "encoding/json"

// Codec encodes and decodes request/response bodies. Kept generic (not
// JSON-specific by name) so a caller could substitute a different wire
// format without touching the pipeline.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
	ContentType() string
}

// JSON is the default Codec, backed by encoding/json.
type JSON struct{}

// New returns the default JSON codec.
func New() Codec {
	return JSON{}
}

func (JSON) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

func (JSON) ContentType() string {
	return "application/json"
}
