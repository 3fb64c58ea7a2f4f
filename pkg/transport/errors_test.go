package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"http error", BadRequest("bad"), http.StatusBadRequest},
		{"wrapped http error", fmt.Errorf("outer: %w", NotFound("gone")), http.StatusNotFound},
		{"max bytes", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"deadline", fmt.Errorf("permit: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFromError(tt.err); got != tt.want {
				t.Errorf("StatusFromError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"client error", BadRequest("chunks must be a number"), http.StatusBadRequest, "chunks must be a number"},
		{"server error hides details", errors.New("db password wrong"), http.StatusInternalServerError, "Internal Server Error"},
		{"wrapped server error", ServerError(errors.New("secret")), http.StatusInternalServerError, "internal server error"},
		{"too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, "http: request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Error.Status != tt.wantStatus {
				t.Errorf("body status = %d, want %d", body.Error.Status, tt.wantStatus)
			}
			if body.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.wantMessage)
			}
		})
	}
}

func TestHTTPErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := ServerError(cause)
	if !errors.Is(err, cause) {
		t.Error("ServerError should wrap its cause")
	}
	if err.Error() != "internal server error: cause" {
		t.Errorf("Error() = %q", err.Error())
	}
}
