package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/trickle/pkg/exec"
	"github.com/rhuss/trickle/pkg/transport"
)

// Server wraps an http.Server with the transport adapter and manages
// the full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	TLSCertFile     string
	TLSKeyFile      string
	ShutdownTimeout time.Duration
	Adapter         Config
	Logger          *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":5050",
		ShutdownTimeout: 30 * time.Second,
		Adapter:         DefaultConfig(),
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithTLS serves HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(s *Server) { s.config.TLSCertFile, s.config.TLSKeyFile = certFile, keyFile }
}

// WithMaxContentLength sets the maximum request body size.
func WithMaxContentLength(n int64) ServerOption {
	return func(s *Server) { s.config.Adapter.MaxContentLength = n }
}

// WithWaterMarks sets the per-response queue thresholds, in bytes.
func WithWaterMarks(low, high int) ServerOption {
	return func(s *Server) { s.config.Adapter.LowWaterMark, s.config.Adapter.HighWaterMark = low, high }
}

// WithWriteTimeout sets the deadline for every response write.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.Adapter.WriteTimeout = d }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// NewServer creates a new transport server running handlers on ctrl.
// Default middleware (recovery, request ID, logging) is applied to every
// handler registered on the adapter.
func NewServer(ctrl *exec.Controller, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	adapterCfg := s.config.Adapter
	adapterCfg.Logger = s.logger

	defaultMW := []transport.Middleware{
		transport.Recovery(s.logger),
		transport.RequestID(),
		transport.Logging(s.logger),
	}

	s.adapter = NewAdapter(ctrl, adapterCfg, defaultMW...)

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.adapter.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	return s
}

// Adapter returns the adapter to register routes on.
func (s *Server) Adapter() *Adapter {
	return s.adapter
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight transmissions to complete within the configured
// timeout.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ln)
}

// ServeOn starts the server on the given listener and blocks until a
// shutdown signal is received.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.Bool("tls", s.tls()),
		)
		var err error
		if s.tls() {
			err = s.httpServer.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) tls() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Shutdown stops accepting connections and waits for running
// transmissions. When ctx expires first, the remaining transmissions are
// cancelled and their connections closed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if n := s.adapter.InFlight().CancelAll(); n > 0 {
		s.logger.Warn("cancelled in-flight transmissions", slog.Int("count", n))
	}
	if cerr := s.httpServer.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}
