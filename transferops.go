package netkit

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/macward/netkit/pkg/transport"
	"github.com/macward/netkit/poll"
	"github.com/macward/netkit/transfer"
)

// Upload streams source to ep's resolved URL and decodes the response into
// T (spec.md §4.10, §6 "upload<T>"). Uploads bypass the cache and in-flight
// tracker entirely, whatever the endpoint's DedupPolicy, and do not
// auto-retry: a
// failed upload must be resubmitted by the caller with a fresh source,
// since a partially-consumed reader cannot be replayed.
func Upload[T any](ctx context.Context, c *Client, ep Endpoint, source transfer.UploadSource, onProgress func(transfer.Progress)) (T, error) {
	var zero T
	requestID := uuid.New().String()
	now := c.Clock.Now()

	canonical, err := BuildRequest(c.Environment, ep, nil, c.Codec, now)
	if err != nil {
		return zero, err
	}

	sendCtx, cancel := context.WithDeadline(ctx, canonical.Deadline)
	defer cancel()

	status, header, body, err := transfer.Upload(sendCtx, c.Transport, string(canonical.Method), canonical.URL, toHTTPHeader(canonical.Headers), source, onProgress)
	if err != nil {
		netErr := classifyTransportError(err, 0, requestID)
		c.recordMetrics(ep, now, outcome{err: netErr}, 0, false)
		return zero, netErr
	}

	o := outcome{status: status, header: header, body: body}
	c.recordMetrics(ep, now, o, 0, false)

	if status == 204 {
		if !ep.ResponseAllowsEmpty {
			return zero, &NetworkError{Kind: KindNoContent, StatusCode: 204, Timestamp: c.Clock.Now(), RequestID: requestID}
		}
		return zero, nil
	}

	if kind, isErr := KindForStatus(status); isErr {
		return zero, &NetworkError{
			Kind:       kind,
			StatusCode: status,
			Response:   ptr(NewResponseSnapshot(c.Sanitize, status, fromHTTPHeader(header), body)),
			Request:    ptr(NewRequestSnapshot(c.Sanitize, string(canonical.Method), canonical.URL, canonical.Headers, int(source.Size))),
			Timestamp:  c.Clock.Now(),
			RequestID:  requestID,
		}
	}

	var out T
	if len(body) > 0 {
		if err := c.Codec.Decode(body, &out); err != nil {
			return zero, &NetworkError{Kind: KindDecodingFailed, StatusCode: status, Underlying: err, Timestamp: c.Clock.Now(), RequestID: requestID}
		}
	}
	return out, nil
}

// Download streams ep's resolved URL to destination (spec.md §4.10, §6
// "download"). Like Upload, it bypasses cache/dedup and does not
// auto-retry.
func Download(ctx context.Context, c *Client, ep Endpoint, destination string, onProgress func(transfer.Progress)) error {
	requestID := uuid.New().String()
	now := c.Clock.Now()

	canonical, err := BuildRequest(c.Environment, ep, nil, c.Codec, now)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithDeadline(ctx, canonical.Deadline)
	defer cancel()

	if err := transfer.Download(sendCtx, c.Transport, string(canonical.Method), canonical.URL, toHTTPHeader(canonical.Headers), destination, onProgress); err != nil {
		netErr := classifyTransportError(err, 0, requestID)
		c.recordMetrics(ep, now, outcome{err: netErr}, 0, false)
		return netErr
	}
	c.recordMetrics(ep, now, outcome{status: 200}, 0, false)
	return nil
}

// Stream is a typed view over a poll.Stream, decoding each successful pull
// into T (spec.md §4.9, §6 "poll<T>").
type Stream[T any] struct {
	inner *poll.Stream
}

// Poll starts a long-polling stream against ep, reconnecting per cfg until
// shouldContinue returns false or the error budget is exhausted (spec.md
// §4.9). Each successful pull's raw body is decoded into T before
// shouldContinue ever sees it, so shouldContinue operates on typed values.
func Poll[T any](c *Client, ep Endpoint, cfg poll.Config, shouldContinue func(T) bool) *Stream[T] {
	pull := func(ctx context.Context, timeout time.Duration) (poll.Outcome, error) {
		now := c.Clock.Now()
		timeoutEp := ep.WithTimeout(timeout)
		canonical, err := BuildRequest(c.Environment, timeoutEp, nil, c.Codec, now)
		if err != nil {
			return poll.Outcome{}, err
		}

		sendCtx, cancel := context.WithDeadline(ctx, canonical.Deadline)
		defer cancel()

		var reqBody io.Reader
		if len(canonical.Body) > 0 {
			reqBody = &bytesReader{b: canonical.Body}
		}
		status, _, body, err := c.Transport.Send(sendCtx, &transport.Request{
			Method:  string(canonical.Method),
			URL:     canonical.URL,
			Header:  toHTTPHeader(canonical.Headers),
			Body:    reqBody,
			BodyLen: int64(len(canonical.Body)),
		}, nil)
		if err != nil {
			// Cancellation of the caller's ctx ends the stream; any other
			// transport failure is classified and handed to the reconnect
			// policy (timeout, noConnection, or unknown).
			if ctx.Err() != nil {
				return poll.Outcome{}, err
			}
			return poll.Outcome{Kind: string(classifyTransportError(err, 0, "").Kind)}, nil
		}

		if status == 204 {
			return poll.Outcome{Kind: string(KindNoContent), StatusCode: status}, nil
		}
		if kind, isErr := KindForStatus(status); isErr {
			return poll.Outcome{Kind: string(kind), StatusCode: status}, nil
		}

		var decoded T
		if len(body) > 0 {
			if err := c.Codec.Decode(body, &decoded); err != nil {
				return poll.Outcome{Kind: string(KindDecodingFailed), StatusCode: status}, nil
			}
		}
		return poll.Outcome{StatusCode: status, Response: decoded}, nil
	}

	wrappedShouldContinue := func(resp interface{}) bool {
		v, _ := resp.(T)
		return shouldContinue(v)
	}

	return &Stream[T]{inner: poll.New(cfg, pull, wrappedShouldContinue, c.Clock)}
}

// Next pulls the next successful, typed response. ok is false once the
// stream has terminated (spec.md §4.9's termination conditions).
func (s *Stream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	v, ok, err := s.inner.Next(ctx)
	if err != nil || !ok {
		return zero, ok, err
	}
	typed, _ := v.(T)
	return typed, true, nil
}
