package observability

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - trickle_requests_total (counter): per request with method and status class labels
//   - trickle_request_duration_seconds (histogram): request duration with method label
//
// A handler that aborts the connection with http.ErrAbortHandler after the
// status was sent is still counted, with the status it sent.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			statusStr := strconv.Itoa(sw.status/100) + "xx"
			RequestsTotal.WithLabelValues(r.Method, statusStr).Inc()
			RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(sw, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// to reach deadlines and flushing of the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
