package http

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	gohttp "net/http"
	"testing"
	"time"

	"github.com/rhuss/trickle/pkg/stream"
	"github.com/rhuss/trickle/pkg/transport"
)

func startServer(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.serve(ctx, ln)
	return "http://" + ln.Addr().String()
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	srv := NewServer(nil, WithAddr("127.0.0.1:0"))
	srv.Adapter().Handle("GET /hello", chunksHandler("hello ", "world"))
	url := startServer(t, srv)

	resp, err := gohttp.Get(url + "/hello")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "hello world" {
		t.Errorf("body = %q, want %q", data, "hello world")
	}
	if resp.Header.Get(transport.RequestIDHeader) == "" {
		t.Error("default middleware should set X-Request-ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestServerRecoversFromPanics(t *testing.T) {
	srv := NewServer(nil)
	srv.Adapter().Handle("GET /panic", transport.HandlerFunc(func(ctx context.Context, r *gohttp.Request) (*transport.Response, error) {
		panic("handler exploded")
	}))
	url := startServer(t, srv)

	resp, err := gohttp.Get(url + "/panic")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusInternalServerError)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	slow := transport.HandlerFunc(func(ctx context.Context, r *gohttp.Request) (*transport.Response, error) {
		sent := false
		body := stream.Pull(func(ctx context.Context) ([]byte, error) {
			if sent {
				return nil, io.EOF
			}
			select {
			case <-time.After(200 * time.Millisecond):
				sent = true
				return []byte("done"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, stream.WithExecutor(stream.Async))
		return transport.NewResponse(body), nil
	})

	srv := NewServer(nil, WithShutdownTimeout(5*time.Second))
	srv.Adapter().Handle("GET /slow", slow)
	url := startServer(t, srv)

	bodyCh := make(chan string, 1)
	go func() {
		resp, err := gohttp.Get(url + "/slow")
		if err != nil {
			bodyCh <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		bodyCh <- string(data)
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("shutdown error: %v", err)
	}

	select {
	case body := <-bodyCh:
		if body != "done" {
			t.Errorf("body = %q, want %q", body, "done")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
}

func TestServerShutdownCancelsInFlight(t *testing.T) {
	srv := NewServer(nil)
	srv.Adapter().Handle("GET /ticks", transport.HandlerFunc(func(ctx context.Context, r *gohttp.Request) (*transport.Response, error) {
		return transport.NewResponse(ticker()), nil
	}))
	url := startServer(t, srv)

	resp, err := gohttp.Get(url + "/ticks")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if _, err := bufio.NewReader(resp.Body).ReadString('\n'); err != nil {
		t.Fatalf("reading first tick: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = srv.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("shutdown error = %v, want deadline exceeded", err)
	}
	if n := srv.Adapter().InFlight().Len(); n != 0 {
		t.Errorf("in-flight after shutdown = %d, want 0", n)
	}
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Addr != ":5050" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, ":5050")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.Adapter.MaxContentLength != 1<<20 {
		t.Errorf("MaxContentLength = %d, want %d", cfg.Adapter.MaxContentLength, 1<<20)
	}
}

func TestServerOptions(t *testing.T) {
	srv := NewServer(nil,
		WithAddr("127.0.0.1:9999"),
		WithTLS("cert.pem", "key.pem"),
		WithMaxContentLength(42),
		WithWaterMarks(10, 20),
		WithWriteTimeout(time.Second),
	)
	if srv.httpServer.Addr != "127.0.0.1:9999" {
		t.Errorf("Addr = %q", srv.httpServer.Addr)
	}
	if !srv.tls() {
		t.Error("expected TLS to be enabled")
	}
	cfg := srv.Adapter().config
	if cfg.MaxContentLength != 42 || cfg.LowWaterMark != 10 || cfg.HighWaterMark != 20 || cfg.WriteTimeout != time.Second {
		t.Errorf("adapter config = %+v", cfg)
	}
}
