package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is an error with an HTTP status code. Handlers return it to
// control the status of the error response.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewError creates an HTTPError.
func NewError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// BadRequest creates a 400 error.
func BadRequest(format string, args ...any) *HTTPError {
	return NewError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// NotFound creates a 404 error.
func NotFound(format string, args ...any) *HTTPError {
	return NewError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// ServerError wraps err as a 500 error.
func ServerError(err error) *HTTPError {
	return &HTTPError{Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

// StatusFromError maps err to an HTTP status code. HTTPError carries its
// own status; oversized bodies map to 413 and expired deadlines to 503.
func StatusFromError(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON error document.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON error response. Messages of 5xx errors
// that are not HTTPErrors are not exposed to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFromError(err)
	msg := http.StatusText(status)
	var he *HTTPError
	if errors.As(err, &he) {
		msg = he.Message
	} else if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Status: status, Message: msg}})
}
