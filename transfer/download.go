package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/macward/netkit/pkg/transport"
)

// Download streams url's response body to destination (spec.md §4.10):
// the parent directory is created if missing, an existing file at
// destination is overwritten, and on any transport or I/O error the
// partial file is removed. Downloads do not auto-retry — the caller
// decides whether to invoke Download again.
func Download(ctx context.Context, tr transport.Transport, method, url string, header http.Header, destination string, onProgress func(Progress)) (err error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("transfer: create destination directory: %w", err)
	}

	req := &transport.Request{Method: method, URL: url, Header: header}
	resp, err := tr.Stream(ctx, req, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Status >= 400 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("transfer: download failed with status %d", resp.Status)
	}

	f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("transfer: open destination: %w", err)
	}

	total := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		fmt.Sscanf(cl, "%d", &total)
	}
	reporter := NewProgressReporter(total, onProgress, nil)

	written, copyErr := io.Copy(f, &progressReader{r: resp.Body, onRead: func(n int64) {
		reporter.Observe(n, total)
	}})
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(destination)
		if copyErr != nil {
			return fmt.Errorf("transfer: copy response body: %w", copyErr)
		}
		return fmt.Errorf("transfer: close destination file: %w", closeErr)
	}

	if total >= 0 && written != total {
		os.Remove(destination)
		return fmt.Errorf("transfer: short download: got %d bytes, want %d", written, total)
	}

	return nil
}

// progressReader wraps an io.Reader, invoking onRead with the cumulative
// byte count as data is consumed.
type progressReader struct {
	r      io.Reader
	read   int64
	onRead func(cumulative int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.onRead != nil {
			p.onRead(p.read)
		}
	}
	return n, err
}
