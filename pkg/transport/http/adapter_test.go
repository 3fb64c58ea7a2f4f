package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/trickle/pkg/exec"
	"github.com/rhuss/trickle/pkg/stream"
	"github.com/rhuss/trickle/pkg/transport"
)

func newTestServer(t *testing.T, ctrl *exec.Controller, cfg Config, routes map[string]transport.Handler) (*Adapter, string) {
	t.Helper()
	a := NewAdapter(ctrl, cfg, transport.RequestID())
	for pattern, h := range routes {
		a.Handle(pattern, h)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv.URL
}

func chunksHandler(chunks ...string) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
		body := make([][]byte, len(chunks))
		for i, c := range chunks {
			body[i] = []byte(c)
		}
		return transport.NewResponse(stream.FromChunks(body...)).WithContentType("text/plain"), nil
	})
}

// ticker emits "tick\n" every few milliseconds until cancelled.
func ticker() stream.Publisher {
	return stream.Pull(func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return []byte("tick\n"), nil
		}
	}, stream.WithExecutor(stream.Async))
}

func decodeError(t *testing.T, r io.Reader) (int, string) {
	t.Helper()
	var body struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Status, body.Error.Message
}

func TestAdapterStreamsChunks(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /chunks": chunksHandler("a", "b", "c"),
	})

	resp, err := http.Get(url + "/chunks")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/plain")
	}
	if id := resp.Header.Get(transport.RequestIDHeader); id == "" {
		t.Error("expected X-Request-ID header to be set")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("body = %q, want %q", data, "abc")
	}
}

func TestAdapterCustomStatus(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"POST /items": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return &transport.Response{Status: http.StatusCreated, Body: stream.FromChunks([]byte("created"))}, nil
		}),
	})

	resp, err := http.Post(url+"/items", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
}

func TestAdapterNilResponseSendsEmptyBody(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /empty": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return nil, nil
		}),
	})

	resp, err := http.Get(url + "/empty")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(data) != 0 {
		t.Errorf("got status %d body %q, want 200 and empty body", resp.StatusCode, data)
	}
}

func TestAdapterHandlerError(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /bad": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return nil, transport.BadRequest("size must be positive")
		}),
	})

	resp, err := http.Get(url + "/bad")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	status, msg := decodeError(t, resp.Body)
	if status != http.StatusBadRequest || msg != "size must be positive" {
		t.Errorf("error = (%d, %q)", status, msg)
	}
}

func TestAdapterFailureBeforeHeadIsServerError(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /fail": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return transport.NewResponse(stream.Failed(errors.New("database gone"))), nil
		}),
	})

	resp, err := http.Get(url + "/fail")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	_, msg := decodeError(t, resp.Body)
	if strings.Contains(msg, "database gone") {
		t.Errorf("internal error leaked to client: %q", msg)
	}
}

func TestAdapterFailureAfterHeadAbortsConnection(t *testing.T) {
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /partial": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			body := stream.Concat(stream.FromChunks([]byte("partial")), stream.Failed(errors.New("boom")))
			return transport.NewResponse(body), nil
		}),
	})

	resp, err := http.Get(url + "/partial")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	data, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatal("expected truncated body to fail reading")
	}
	if string(data) != "partial" {
		t.Errorf("body = %q, want %q", data, "partial")
	}
}

func TestAdapterMaxContentLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContentLength = 10

	_, url := newTestServer(t, nil, cfg, map[string]transport.Handler{
		"POST /upload": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			if _, err := io.ReadAll(r.Body); err != nil {
				return nil, fmt.Errorf("reading body: %w", err)
			}
			return transport.NewResponse(nil), nil
		}),
	})

	resp, err := http.Post(url+"/upload", "text/plain", strings.NewReader(strings.Repeat("x", 100)))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestAdapterPropagatesRequestID(t *testing.T) {
	var seen string
	_, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /id": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			seen = transport.RequestIDFromContext(ctx)
			return transport.NewResponse(nil), nil
		}),
	})

	req, _ := http.NewRequest(http.MethodGet, url+"/id", nil)
	req.Header.Set(transport.RequestIDHeader, "client-id-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()

	if seen != "client-id-42" {
		t.Errorf("handler saw request ID %q, want %q", seen, "client-id-42")
	}
	if got := resp.Header.Get(transport.RequestIDHeader); got != "client-id-42" {
		t.Errorf("response X-Request-ID = %q, want %q", got, "client-id-42")
	}
}

func TestAdapterCancelTransmission(t *testing.T) {
	a, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /ticks": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return transport.NewResponse(ticker()), nil
		}),
	})

	req, _ := http.NewRequest(http.MethodGet, url+"/ticks", nil)
	req.Header.Set(transport.RequestIDHeader, "ticks-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || line != "tick\n" {
		t.Fatalf("first line = %q, err = %v", line, err)
	}
	if n := a.InFlight().Len(); n != 1 {
		t.Errorf("in-flight = %d, want 1", n)
	}

	del, _ := http.NewRequest(http.MethodDelete, url+"/transmissions/ticks-1", nil)
	delResp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", delResp.StatusCode, http.StatusNoContent)
	}

	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Error("expected cancelled stream to end with an error")
	}

	again, _ := http.NewRequest(http.MethodDelete, url+"/transmissions/ticks-1", nil)
	againResp, err := http.DefaultClient.Do(again)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	againResp.Body.Close()
	if againResp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want %d", againResp.StatusCode, http.StatusNotFound)
	}
}

func TestAdapterDuplicateRequestIDs(t *testing.T) {
	a, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /ticks": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return transport.NewResponse(ticker()), nil
		}),
		"GET /chunks": chunksHandler("ok"),
	})

	req, _ := http.NewRequest(http.MethodGet, url+"/ticks", nil)
	req.Header.Set(transport.RequestIDHeader, "dup")
	long, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer long.Body.Close()
	if _, err := bufio.NewReader(long.Body).ReadString('\n'); err != nil {
		t.Fatalf("reading first tick: %v", err)
	}
	if id := long.Header.Get(transport.TransmissionIDHeader); id != "dup" {
		t.Errorf("long transmission id = %q, want %q", id, "dup")
	}

	req, _ = http.NewRequest(http.MethodGet, url+"/chunks", nil)
	req.Header.Set(transport.RequestIDHeader, "dup")
	short, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	io.Copy(io.Discard, short.Body)
	short.Body.Close()
	if id := short.Header.Get(transport.TransmissionIDHeader); id == "" || id == "dup" {
		t.Errorf("short transmission id = %q, want a fresh one", id)
	}

	// The short transmission ending must leave the long one registered.
	if n := a.InFlight().Len(); n != 1 {
		t.Fatalf("in-flight = %d, want 1", n)
	}

	del, _ := http.NewRequest(http.MethodDelete, url+"/transmissions/dup", nil)
	delResp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", delResp.StatusCode, http.StatusNoContent)
	}
	if _, err := io.ReadAll(long.Body); err == nil {
		t.Error("expected cancelled stream to end with an error")
	}
}

// TestAdapterCancelStalledClient verifies that cancelling a transmission
// to a client that stopped reading releases the handler.
func TestAdapterCancelStalledClient(t *testing.T) {
	chunk := bytes.Repeat([]byte("x"), 1<<20)
	a := NewAdapter(nil, DefaultConfig(), transport.RequestID())
	a.Handle("GET /big", transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
		body := stream.Pull(func(ctx context.Context) ([]byte, error) {
			return chunk, nil
		}, stream.WithExecutor(stream.Async))
		return transport.NewResponse(body), nil
	}))

	returned := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			defer close(returned)
		}
		a.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	fmt.Fprintf(conn, "GET /big HTTP/1.1\r\nHost: test\r\n%s: stalled\r\n\r\n", transport.RequestIDHeader)

	deadline := time.Now().Add(5 * time.Second)
	for a.InFlight().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transmission never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Let the socket buffers fill up.
	time.Sleep(200 * time.Millisecond)

	del, _ := http.NewRequest(http.MethodDelete, srv.URL+"/transmissions/stalled", nil)
	delResp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", delResp.StatusCode, http.StatusNoContent)
	}

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("handler still blocked after the transmission was cancelled")
	}
}

// TestAdapterStreamingHoldsNoPermit verifies that a long transmission does
// not block other requests on a single-permit controller.
func TestAdapterStreamingHoldsNoPermit(t *testing.T) {
	ctrl := exec.New(1)
	_, url := newTestServer(t, ctrl, DefaultConfig(), map[string]transport.Handler{
		"GET /ticks": transport.HandlerFunc(func(ctx context.Context, r *http.Request) (*transport.Response, error) {
			return transport.NewResponse(ticker()), nil
		}),
		"GET /chunks": chunksHandler("ok"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url+"/ticks", nil)
	long, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer long.Body.Close()
	if _, err := bufio.NewReader(long.Body).ReadString('\n'); err != nil {
		t.Fatalf("reading first tick: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url + "/chunks")
	if err != nil {
		t.Fatalf("second request blocked: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "ok" {
		t.Errorf("body = %q, want %q", data, "ok")
	}
	if n := ctrl.InFlight(); n != 0 {
		t.Errorf("permits in use = %d, want 0", n)
	}
}

func TestAdapterInFlightClearedAfterCompletion(t *testing.T) {
	a, url := newTestServer(t, nil, DefaultConfig(), map[string]transport.Handler{
		"GET /chunks": chunksHandler("x", "y"),
	})

	resp, err := http.Get(url + "/chunks")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if n := a.InFlight().Len(); n != 0 {
		t.Errorf("in-flight = %d, want 0", n)
	}
}

func TestAdapterHandleHTTP(t *testing.T) {
	a := NewAdapter(nil, DefaultConfig())
	a.HandleHTTP("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
