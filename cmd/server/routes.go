package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rhuss/trickle/pkg/stream"
	"github.com/rhuss/trickle/pkg/transport"
	transporthttp "github.com/rhuss/trickle/pkg/transport/http"
)

// maxChunkSize caps the size parameter of /stream.
const maxChunkSize = 1 << 20

// RowSource streams the rows of a table.
type RowSource interface {
	Table(table string) (stream.Publisher, error)
	HealthCheck(ctx context.Context) error
}

type routes struct {
	exec    stream.Executor
	baseDir string
	rows    RowSource // nil without a database
}

func (rt *routes) register(a *transporthttp.Adapter) {
	a.HandleHTTP("GET /healthz", http.HandlerFunc(rt.healthz))
	a.Handle("GET /stream", transport.HandlerFunc(rt.stream))
	if rt.baseDir != "" {
		a.Handle("GET /files/{path...}", transport.HandlerFunc(rt.files))
	}
	if rt.rows != nil {
		a.Handle("GET /rows", transport.HandlerFunc(rt.tableRows))
	}
}

func (rt *routes) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.rows != nil {
		if err := rt.rows.HealthCheck(r.Context()); err != nil {
			transport.WriteError(w, transport.NewError(http.StatusServiceUnavailable, "database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// stream handles GET /stream?chunks=N&size=B&delay=D&format=sse.
// chunks=-1 streams until the client goes away.
func (rt *routes) stream(ctx context.Context, r *http.Request) (*transport.Response, error) {
	q := r.URL.Query()

	chunks, err := intParam(q.Get("chunks"), 10)
	if err != nil || chunks < -1 {
		return nil, transport.BadRequest("chunks must be an integer >= -1")
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil || size < 0 || size > maxChunkSize {
		return nil, transport.BadRequest("size must be between 0 and %d", maxChunkSize)
	}
	var delay time.Duration
	if s := q.Get("delay"); s != "" {
		if delay, err = time.ParseDuration(s); err != nil || delay < 0 {
			return nil, transport.BadRequest("delay must be a non-negative duration")
		}
	}

	i := 0
	next := func(ctx context.Context) ([]byte, error) {
		if chunks >= 0 && i >= chunks {
			return nil, io.EOF
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		c := syntheticChunk(i, size)
		i++
		return c, nil
	}
	resp := transport.NewResponse(stream.Pull(next, stream.WithExecutor(rt.exec)))

	if q.Get("format") == "sse" {
		return transporthttp.EventStream(resp, "chunk"), nil
	}
	return resp.WithContentType("text/plain; charset=utf-8"), nil
}

// syntheticChunk returns "chunk i\n", or size bytes of one letter ending in
// a newline.
func syntheticChunk(i, size int) []byte {
	if size == 0 {
		return []byte("chunk " + strconv.Itoa(i) + "\n")
	}
	c := bytes.Repeat([]byte{byte('a' + i%26)}, size)
	c[size-1] = '\n'
	return c
}

// files handles GET /files/{path...}. Paths cannot leave the base dir.
func (rt *routes) files(ctx context.Context, r *http.Request) (*transport.Response, error) {
	name := r.PathValue("path")
	if name == "" || !filepath.IsLocal(name) {
		return nil, transport.NotFound("file %q not found", name)
	}

	root, err := os.OpenRoot(rt.baseDir)
	if err != nil {
		return nil, fmt.Errorf("opening base dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, transport.NotFound("file %q not found", name)
		}
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, transport.NotFound("file %q not found", name)
	}

	resp := transport.NewResponse(stream.FromReader(f, 0, stream.WithExecutor(rt.exec)))
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	return resp.WithContentType(ct), nil
}

// tableRows handles GET /rows?table=T, one JSON object per line.
func (rt *routes) tableRows(ctx context.Context, r *http.Request) (*transport.Response, error) {
	table := r.URL.Query().Get("table")
	if table == "" {
		return nil, transport.BadRequest("table is required")
	}
	pub, err := rt.rows.Table(table)
	if err != nil {
		return nil, transport.BadRequest("%v", err)
	}
	return transport.NewResponse(pub).WithContentType("application/x-ndjson"), nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
