package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns a unique request ID to each
// request. If the context already carries one (set by the HTTP adapter from
// the X-Request-ID header), that value is kept. The ID is echoed in the
// response headers.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			id := RequestIDFromContext(ctx)
			if id == "" {
				id = uuid.NewString()
				ctx = ContextWithRequestID(ctx, id)
			}
			resp, err := next.Respond(ctx, r)
			if resp != nil {
				if resp.Header == nil {
					resp.Header = make(http.Header)
				}
				resp.Header.Set(RequestIDHeader, id)
			}
			return resp, err
		})
	}
}
