// Package transport defines the handler contract and middleware chain of the
// trickle HTTP server.
//
// A Handler inspects a request and returns a Response: status, headers and a
// stream.Publisher for the body. It does not write to the connection itself.
// The HTTP adapter in transport/http drains the publisher with a
// transmit.Transmitter, so every response body is sent with backpressure:
// the next chunk is produced only after the previous one reached the
// socket.
//
// # Middleware
//
// The middleware chain wraps a Handler with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured logging via log/slog.
//
// # Errors
//
// Handlers return an *HTTPError to choose the status of an error response.
// Other errors become 500 responses without exposing their message.
// WriteError renders errors as JSON.
//
// # In-flight transmissions
//
// InFlightRegistry keeps the cancel function of every running transmission
// so that shutdown can stop them.
package transport
