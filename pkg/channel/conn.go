package channel

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// WithPeerCloseDetection makes FromConn start a goroutine that reads (and
// discards) from the connection, so that a peer hang-up closes the channel
// even while nothing is being written. Other constructors ignore it.
func WithPeerCloseDetection() Option {
	return func(b *Buffered) { b.detectPeerClose = true }
}

// FromConn returns a Buffered channel writing to conn. Close closes conn.
// The write timeout, if set, is applied with SetWriteDeadline.
func FromConn(conn net.Conn, opts ...Option) *Buffered {
	b := newBuffered(conn, opts...)
	b.setDeadline = conn.SetWriteDeadline
	b.closeFn = conn.Close
	b.start()

	if b.detectPeerClose {
		go func() {
			_, err := io.Copy(io.Discard, conn)
			if err == nil {
				err = io.EOF
			}
			b.abort(&PeerClosedError{Err: err})
		}()
	}
	return b
}

// FromResponseWriter returns a Buffered channel writing the body of an
// HTTP response. The channel closes when the request context is done.
// The head is written with WriteHead; the handler must Close the channel
// before returning so no write happens after the handler is gone.
func FromResponseWriter(w http.ResponseWriter, r *http.Request, opts ...Option) *Buffered {
	rc := http.NewResponseController(w)

	b := newBuffered(w, append([]Option{WithContext(r.Context())}, opts...)...)
	b.flush = rc.Flush
	b.setDeadline = func(t time.Time) error {
		if err := rc.SetWriteDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	b.head = func(status int, header http.Header) error {
		dst := w.Header()
		for k, v := range header {
			dst[k] = v
		}
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		return nil
	}
	// A deadline in the past fails the pending write; the connection itself
	// belongs to the server.
	b.interrupt = func() error { return b.setDeadline(time.Now()) }
	// The server finishes the response after the channel is closed.
	b.closeFn = func() error { return b.setDeadline(time.Time{}) }
	b.start()
	return b
}

// PeerClosedError reports that the remote end closed the connection.
type PeerClosedError struct {
	Err error
}

func (e *PeerClosedError) Error() string {
	return "channel: peer closed connection: " + e.Err.Error()
}

func (e *PeerClosedError) Unwrap() error { return e.Err }
