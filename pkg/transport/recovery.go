package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery returns middleware that turns a panic in the handler into a 500
// HTTPError. The server keeps serving other requests.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, r *http.Request) (resp *Response, retErr error) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panicked",
						"request_id", RequestIDFromContext(ctx),
						"panic", p,
						"stack", string(debug.Stack()),
					)
					resp = nil
					retErr = ServerError(fmt.Errorf("panic: %v", p))
				}
			}()
			return next.Respond(ctx, r)
		})
	}
}
