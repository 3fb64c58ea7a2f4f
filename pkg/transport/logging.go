package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Logging returns middleware that logs each handler call: method, path,
// request ID, duration and either the response status or the error.
//
// The handler only builds the response; body transmission is logged by the
// HTTP adapter once the transmission ended.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			start := time.Now()

			resp, err := next.Respond(ctx, r)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs,
					slog.Int("status", StatusFromError(err)),
					slog.String("error", err.Error()),
				)
				logger.LogAttrs(ctx, slog.LevelWarn, "handler failed", attrs...)
			} else {
				status := http.StatusOK
				if resp != nil && resp.Status != 0 {
					status = resp.Status
				}
				attrs = append(attrs, slog.Int("status", status))
				logger.LogAttrs(ctx, slog.LevelDebug, "handler responded", attrs...)
			}
			return resp, err
		})
	}
}
