package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrClosed is returned for writes issued on, or still queued when, a
// channel is closed.
var ErrClosed = errors.New("channel: closed")

// Channel is a single network connection as seen by a response
// transmitter.
type Channel interface {
	// IsOpen reports whether writes can still succeed.
	IsOpen() bool

	// IsWritable reports whether the channel can take more data without
	// queuing past its high water mark.
	IsWritable() bool

	// WriteAndFlush queues chunk and flushes it to the peer. The returned
	// future completes once the chunk has been written or the write
	// failed. The caller must not modify chunk before that.
	// WriteAndFlush must not block and must not run close or writability
	// hooks on the calling goroutine.
	WriteAndFlush(chunk []byte) *WriteFuture
}

// CloseNotifier is implemented by channels that can report closure.
type CloseNotifier interface {
	// NotifyClose calls fn once when the channel closes, or right away if it
	// already has. The returned stop function unregisters fn.
	NotifyClose(fn func()) (stop func())
}

// WritabilityNotifier is implemented by channels whose writability can
// change over time.
type WritabilityNotifier interface {
	// NotifyWritable calls fn once when the channel becomes writable or
	// closes, or right away if either is already the case.
	NotifyWritable(fn func())
}

// HeadWriter is implemented by channels that carry a response head
// (status and headers) ahead of the body.
type HeadWriter interface {
	// WriteHead queues the response head. It is ordered with respect to
	// WriteAndFlush calls and, like them, never blocks.
	WriteHead(status int, header http.Header) *WriteFuture
}

// WriteFuture is the completion notification of one write.
type WriteFuture struct {
	mu        sync.Mutex
	done      bool
	err       error
	listeners []func(error)
	ch        chan struct{}
}

// NewWriteFuture returns a pending future.
func NewWriteFuture() *WriteFuture {
	return &WriteFuture{ch: make(chan struct{})}
}

// Succeeded returns a future that already completed successfully.
func Succeeded() *WriteFuture {
	f := NewWriteFuture()
	f.Complete(nil)
	return f
}

// FailedWrite returns a future that already failed with err.
func FailedWrite(err error) *WriteFuture {
	f := NewWriteFuture()
	f.Complete(err)
	return f
}

// Complete resolves the future and runs its listeners on the calling
// goroutine. It reports false if the future was already complete.
func (f *WriteFuture) Complete(err error) bool {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return false
	}
	f.done = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.ch)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
	return true
}

// AddListener registers fn to run on completion. If the future is already
// complete, fn runs immediately on the calling goroutine.
func (f *WriteFuture) AddListener(fn func(err error)) {
	f.mu.Lock()
	if f.done {
		err := f.err
		f.mu.Unlock()
		fn(err)
		return
	}
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Done returns a channel closed on completion.
func (f *WriteFuture) Done() <-chan struct{} {
	return f.ch
}

// Err returns the write error, or nil if the write succeeded or is still
// pending.
func (f *WriteFuture) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *WriteFuture) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
