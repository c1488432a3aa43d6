package interceptor

import (
	"context"
	"time"

	"github.com/macward/netkit/pkg/logger"
)

// Detail controls how much of a request/response the logging interceptor
// inspects (spec.md §4.2 "minimal"/"verbose" detail modes).
type Detail int

const (
	// DetailMinimal logs method, URL, and status only.
	DetailMinimal Detail = iota
	// DetailVerbose additionally logs the body, unless it is larger than
	// bodyInspectLimit.
	DetailVerbose
)

// bodyInspectLimit is the largest body, in bytes, the verbose logger will
// inspect; a larger body is logged as an empty preview (spec.md §4.2).
const bodyInspectLimit = 10 * 1024

// Logging returns an Interceptor that logs each request and response via
// log, generalized from pkg/middleware/logging.go's RequestLogger (JSON
// structured lines, method/status/duration) from an http.Handler wrapper
// into a request/response interceptor pair.
func Logging(log logger.Logger, detail Detail) Interceptor {
	return Interceptor{
		Name: "logging",
		OnRequest: func(ctx context.Context, req Request) (Request, error) {
			fields := []logger.Field{
				logger.F("method", req.Method),
				logger.F("url", req.URL),
			}
			if detail == DetailVerbose {
				fields = append(fields, logger.F("body_preview", previewBody(req.Body)))
			}
			log.Debug("request", fields...)
			return req, nil
		},
		OnResponse: func(ctx context.Context, resp Response) (Response, error) {
			fields := []logger.Field{
				logger.F("status", resp.Status),
			}
			if detail == DetailVerbose {
				fields = append(fields, logger.F("body_preview", previewBody(resp.Body)))
			}
			switch {
			case resp.Status >= 500:
				log.Error("response", fields...)
			case resp.Status >= 400:
				log.Warn("response", fields...)
			default:
				log.Info("response", fields...)
			}
			return resp, nil
		},
	}
}

func previewBody(body []byte) string {
	if len(body) > bodyInspectLimit {
		return ""
	}
	return string(body)
}

// Timing returns an Interceptor that logs request duration by stashing the
// start time in a per-call closure variable; because Chain invokes
// OnRequest then, much later, OnResponse for the same logical attempt, a
// fresh Timing() value must be constructed per attempt rather than shared.
func Timing(log logger.Logger, clockNow func() time.Time) Interceptor {
	var start time.Time
	return Interceptor{
		Name: "timing",
		OnRequest: func(ctx context.Context, req Request) (Request, error) {
			start = clockNow()
			return req, nil
		},
		OnResponse: func(ctx context.Context, resp Response) (Response, error) {
			log.Debug("attempt_duration", logger.F("duration_ms", clockNow().Sub(start).Milliseconds()))
			return resp, nil
		},
	}
}
