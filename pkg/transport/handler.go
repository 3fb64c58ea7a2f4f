package transport

import (
	"context"
	"net/http"

	"github.com/rhuss/trickle/pkg/stream"
)

// Handler produces the response for one request. It returns quickly: the
// body is a publisher that the transport drains afterwards, at the pace the
// client can take.
type Handler interface {
	Respond(ctx context.Context, r *http.Request) (*Response, error)
}

// HandlerFunc is an adapter that allows using an ordinary function as a
// Handler.
type HandlerFunc func(ctx context.Context, r *http.Request) (*Response, error)

// Respond calls f(ctx, r).
func (f HandlerFunc) Respond(ctx context.Context, r *http.Request) (*Response, error) {
	return f(ctx, r)
}

// Response is the head and body of a streamed response.
type Response struct {
	// Status is the HTTP status code (default 200).
	Status int

	// Header holds the response headers.
	Header http.Header

	// Body emits the body chunks. A nil Body sends an empty body.
	Body stream.Publisher
}

// NewResponse returns a 200 response with an empty header set.
func NewResponse(body stream.Publisher) *Response {
	return &Response{
		Status: http.StatusOK,
		Header: make(http.Header),
		Body:   body,
	}
}

// WithContentType sets the Content-Type header and returns r.
func (r *Response) WithContentType(ct string) *Response {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Content-Type", ct)
	return r
}
