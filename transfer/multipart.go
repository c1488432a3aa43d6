package transfer

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/macward/netkit/mimetype"
)

// FormField is a plain text field in a multipart form.
type FormField struct {
	Name  string
	Value string
}

// FormFile is a file part in a multipart form. ContentType is inferred
// from Filename via mimetype.ForFilename if left empty.
type FormFile struct {
	FieldName   string
	Filename    string
	ContentType string
	Content     io.Reader
	Size        int64 // -1 if unknown
}

// MultipartFormData builds a CRLF-delimited multipart body with a random
// boundary (spec.md §4.10). Hand-rolled rather than using mime/multipart's
// Writer directly so the boundary and exact CRLF framing are spec-visible
// and so a Size() can be computed up front for known-size fields (the
// teacher never builds multipart requests; this follows the same
// mime/multipart idiom used by other retrieved HTTP client examples for
// form building).
type MultipartFormData struct {
	Boundary string
	fields   []FormField
	files    []FormFile
}

// NewMultipartFormData generates a fresh random boundary.
func NewMultipartFormData() (*MultipartFormData, error) {
	boundary, err := randomBoundary()
	if err != nil {
		return nil, err
	}
	return &MultipartFormData{Boundary: boundary}, nil
}

func randomBoundary() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "netkit-boundary-" + hex.EncodeToString(buf), nil
}

// AddField appends a plain text form field.
func (m *MultipartFormData) AddField(name, value string) {
	m.fields = append(m.fields, FormField{Name: name, Value: value})
}

// AddFile appends a file part, inferring ContentType from Filename when
// unset.
func (m *MultipartFormData) AddFile(f FormFile) {
	if f.ContentType == "" {
		f.ContentType = mimetype.ForFilename(f.Filename)
	}
	m.files = append(m.files, f)
}

// ContentType returns the multipart/form-data content type header value
// including the boundary.
func (m *MultipartFormData) ContentType() string {
	return "multipart/form-data; boundary=" + m.Boundary
}

// Reader streams the encoded body. File content readers are read through
// in the order they were added.
func (m *MultipartFormData) Reader() io.Reader {
	readers := make([]io.Reader, 0, len(m.fields)+len(m.files)+1)

	for _, f := range m.fields {
		readers = append(readers, strings.NewReader(
			fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=%q\r\n\r\n%s\r\n", m.Boundary, f.Name, f.Value),
		))
	}
	for _, f := range m.files {
		header := fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=%q; filename=%q\r\nContent-Type: %s\r\n\r\n",
			m.Boundary, f.FieldName, f.Filename, f.ContentType)
		readers = append(readers, bytes.NewReader([]byte(header)))
		readers = append(readers, f.Content)
		readers = append(readers, bytes.NewReader([]byte("\r\n")))
	}
	readers = append(readers, bytes.NewReader([]byte(fmt.Sprintf("--%s--\r\n", m.Boundary))))

	return io.MultiReader(readers...)
}

// Size returns the total encoded size, or -1 if any file part has an
// unknown size.
func (m *MultipartFormData) Size() int64 {
	var total int64
	for _, f := range m.fields {
		total += int64(len(fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=%q\r\n\r\n%s\r\n", m.Boundary, f.Name, f.Value)))
	}
	for _, f := range m.files {
		if f.Size < 0 {
			return -1
		}
		header := fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=%q; filename=%q\r\nContent-Type: %s\r\n\r\n",
			m.Boundary, f.FieldName, f.Filename, f.ContentType)
		total += int64(len(header)) + f.Size + 2 // trailing CRLF after content
	}
	total += int64(len(fmt.Sprintf("--%s--\r\n", m.Boundary)))
	return total
}
