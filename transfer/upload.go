package transfer

import (
	"context"
	"io"
	"net/http"

	"github.com/macward/netkit/pkg/transport"
)

// UploadSource is either a plain file handle or a MultipartFormData
// builder (spec.md §4.10 "Upload: accepts either a file handle or a
// MultipartFormData builder").
type UploadSource struct {
	Body        io.Reader
	Size        int64 // -1 if unknown
	ContentType string
}

// FromMultipart adapts a MultipartFormData into an UploadSource.
func FromMultipart(m *MultipartFormData) UploadSource {
	return UploadSource{Body: m.Reader(), Size: m.Size(), ContentType: m.ContentType()}
}

// FromFile adapts a plain reader (typically an *os.File) into an
// UploadSource of known size.
func FromFile(r io.Reader, size int64, contentType string) UploadSource {
	return UploadSource{Body: r, Size: size, ContentType: contentType}
}

// Upload streams source to url via tr, reporting progress through
// onProgress as bytes leave the client. Per spec.md §4.10, a retry resets
// progress to zero and replays — callers implementing retry around Upload
// must therefore re-invoke it with a fresh UploadSource each attempt
// rather than reusing a partially-consumed reader.
func Upload(ctx context.Context, tr transport.Transport, method, url string, header http.Header, source UploadSource, onProgress func(Progress)) (status int, respHeader http.Header, respBody []byte, err error) {
	reporter := NewProgressReporter(source.Size, onProgress, nil)

	if header == nil {
		header = make(http.Header)
	}
	if source.ContentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", source.ContentType)
	}

	req := &transport.Request{
		Method:  method,
		URL:     url,
		Header:  header,
		Body:    source.Body,
		BodyLen: source.Size,
	}

	return tr.Send(ctx, req, reporter.Observe)
}
