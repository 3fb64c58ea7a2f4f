package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/trickle/pkg/channel"
	"github.com/rhuss/trickle/pkg/debug"
	"github.com/rhuss/trickle/pkg/exec"
	"github.com/rhuss/trickle/pkg/observability"
	"github.com/rhuss/trickle/pkg/stream"
	"github.com/rhuss/trickle/pkg/transmit"
	"github.com/rhuss/trickle/pkg/transport"
)

// Adapter serves transport handlers over HTTP. For every request it runs
// the handler, then drains the response body into the connection through a
// transmitter, at the pace the client reads.
type Adapter struct {
	ctrl        *exec.Controller
	inflight    *transport.InFlightRegistry
	mux         *http.ServeMux
	middlewares []transport.Middleware
	observer    transmit.Observer
	config      Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	// MaxContentLength limits request bodies. Zero disables the limit.
	MaxContentLength int64

	// HighWaterMark and LowWaterMark bound the bytes queued per response.
	HighWaterMark int
	LowWaterMark  int

	// WriteTimeout is the deadline for every single write. Zero disables it.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxContentLength: 1 << 20, // 1 MiB
		HighWaterMark:    channel.DefaultHighWaterMark,
		LowWaterMark:     channel.DefaultLowWaterMark,
		Logger:           slog.Default(),
	}
}

// NewAdapter creates an HTTP adapter running handlers on ctrl. A nil ctrl
// gets a default-sized controller. Middleware is applied to every handler
// registered with Handle, in the given order.
func NewAdapter(ctrl *exec.Controller, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if ctrl == nil {
		ctrl = exec.New(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Adapter{
		ctrl:        ctrl,
		inflight:    transport.NewInFlightRegistry(),
		mux:         http.NewServeMux(),
		middlewares: middlewares,
		observer:    observability.TransmitObserver{},
		config:      cfg,
	}

	a.mux.HandleFunc("DELETE /transmissions/{id}", a.handleCancel)
	return a
}

// Handle registers h for pattern (http.ServeMux syntax).
func (a *Adapter) Handle(pattern string, h transport.Handler) {
	if len(a.middlewares) > 0 {
		h = transport.Chain(a.middlewares...)(h)
	}
	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		a.serve(w, r, h)
	})
}

// HandleHTTP registers a plain http.Handler, for endpoints that do not
// stream (health checks, metrics).
func (a *Adapter) HandleHTTP(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// InFlight returns the registry of running transmissions.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// Controller returns the execution controller handlers run on.
func (a *Adapter) Controller() *exec.Controller {
	return a.ctrl
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler records
// request metrics and propagates the X-Request-ID header.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(httpRequestIDMiddleware(a.mux))
}

// httpRequestIDMiddleware propagates a client supplied X-Request-ID into
// the request context, where the transport-level RequestID middleware
// picks it up.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(transport.RequestIDHeader); id != "" {
			w.Header().Set(transport.RequestIDHeader, id)
			r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// serve runs h and transmits its response. The handler holds an execution
// permit only while it builds the response; draining the body does not.
func (a *Adapter) serve(w http.ResponseWriter, r *http.Request, h transport.Handler) {
	if a.config.MaxContentLength > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxContentLength)
	}

	var resp *transport.Response
	err := a.ctrl.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		resp, err = h.Respond(ctx, r)
		return err
	})
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if resp == nil {
		resp = transport.NewResponse(nil)
	}
	body := resp.Body
	if body == nil {
		body = stream.FromChunks()
	}

	ch := channel.FromResponseWriter(w, r,
		channel.WithWaterMarks(a.config.LowWaterMark, a.config.HighWaterMark),
		channel.WithWriteTimeout(a.config.WriteTimeout),
		channel.WithLogger(a.config.Logger),
	)
	tx := transmit.New(ch,
		transmit.WithStatus(resp.Status),
		transmit.WithHeader(resp.Header),
		transmit.WithSessionID(resp.Header.Get(transport.RequestIDHeader)),
		transmit.WithLogger(a.config.Logger),
		transmit.WithObserver(a.observer),
	)
	id, unregister := a.inflight.Register(tx.Session().ID(), tx.Cancel)
	if id != tx.Session().ID() {
		debug.Log(debug.Transport, "transmission id taken, registered under a new one",
			"session", tx.Session().ID(), "transmission", id)
	}
	tx.Session().SetHeader(transport.TransmissionIDHeader, id)

	body.Subscribe(tx)
	<-tx.Done()
	unregister()

	o, _ := tx.Notifier().Outcome()
	if !o.Succeeded() && tx.Session().Committed() {
		// Queued bytes are of no use to a broken response.
		ch.Abort(o.Err)
	}
	if err := ch.Close(); err != nil {
		debug.Log(debug.Transport, "closing response channel", "session", id, "error", err)
	}

	if o.Succeeded() {
		return
	}
	if !tx.Session().Committed() {
		transport.WriteError(w, transport.ServerError(o.Err))
		return
	}
	// The head is out; the only honest signal left is a broken connection.
	debug.Log(debug.Transport, "aborting response", "session", id, "error", o.Err)
	panic(http.ErrAbortHandler)
}

// handleCancel handles DELETE /transmissions/{id}.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteError(w, transport.NotFound("transmission %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
