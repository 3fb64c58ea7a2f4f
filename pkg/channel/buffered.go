package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/trickle/pkg/debug"
)

// Default water marks, in queued bytes.
const (
	DefaultHighWaterMark = 64 << 10
	DefaultLowWaterMark  = 32 << 10
)

// Option configures a Buffered channel.
type Option func(*Buffered)

// WithWaterMarks sets the queued-byte thresholds at which the channel
// stops (above high) and resumes (at or below low) reporting itself
// writable.
func WithWaterMarks(low, high int) Option {
	return func(b *Buffered) {
		if high <= 0 {
			return
		}
		if low < 0 || low > high {
			low = high / 2
		}
		b.low, b.high = low, high
	}
}

// WithWriteTimeout sets a deadline for every write, when the underlying
// writer supports deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Buffered) { b.writeTimeout = d }
}

// WithContext closes the channel when ctx is done.
func WithContext(ctx context.Context) Option {
	return func(b *Buffered) { b.ctx = ctx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffered) {
		if l != nil {
			b.logger = l
		}
	}
}

// Buffered is a Channel that queues writes and performs them in order on a
// dedicated writer goroutine. It reports itself unwritable while more than
// the high water mark is queued.
type Buffered struct {
	w           io.Writer
	flush       func() error
	setDeadline func(time.Time) error
	head        func(status int, header http.Header) error
	closeFn     func() error
	interrupt   func() error // unblocks a write in progress; nil means closeFn

	low, high       int
	writeTimeout    time.Duration
	ctx             context.Context
	logger          *slog.Logger
	detectPeerClose bool

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []*writeOp
	pending       int
	writable      bool
	closed        bool
	closeErr      error
	hooksFired    bool
	closeHooks    map[uint64]func()
	hookSeq       uint64
	writableHooks []func()

	stopWatch func() bool
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ Channel             = (*Buffered)(nil)
	_ CloseNotifier       = (*Buffered)(nil)
	_ WritabilityNotifier = (*Buffered)(nil)
	_ HeadWriter          = (*Buffered)(nil)
)

type writeOp struct {
	data   []byte
	status int
	header http.Header
	isHead bool
	future *WriteFuture
}

// New returns a Buffered channel writing to w and starts its writer
// goroutine. If w implements http.Flusher or a Flush() error method, it is
// flushed after every write. Call Close to stop the writer.
func New(w io.Writer, opts ...Option) *Buffered {
	b := newBuffered(w, opts...)
	switch f := w.(type) {
	case interface{ Flush() error }:
		b.flush = f.Flush
	case http.Flusher:
		b.flush = func() error { f.Flush(); return nil }
	}
	b.start()
	return b
}

func newBuffered(w io.Writer, opts ...Option) *Buffered {
	b := &Buffered{
		w:          w,
		low:        DefaultLowWaterMark,
		high:       DefaultHighWaterMark,
		logger:     slog.Default(),
		writable:   true,
		closeHooks: make(map[uint64]func()),
		done:       make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffered) start() {
	if b.ctx != nil {
		b.stopWatch = context.AfterFunc(b.ctx, func() {
			b.abort(ErrClosed)
		})
	}
	go b.run()
}

// IsOpen reports whether the channel accepts writes.
func (b *Buffered) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// IsWritable reports whether the queue is below the high water mark.
func (b *Buffered) IsWritable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.writable
}

// Pending returns the number of queued bytes not yet written.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Err returns the error that closed the channel, if it was not closed by
// Close.
func (b *Buffered) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

// WriteAndFlush queues chunk for writing.
func (b *Buffered) WriteAndFlush(chunk []byte) *WriteFuture {
	return b.enqueue(&writeOp{data: chunk})
}

// WriteHead queues a response head. Channels without a head writer
// complete it immediately without writing anything.
func (b *Buffered) WriteHead(status int, header http.Header) *WriteFuture {
	if b.head == nil {
		return Succeeded()
	}
	return b.enqueue(&writeOp{isHead: true, status: status, header: header.Clone()})
}

func (b *Buffered) enqueue(op *writeOp) *WriteFuture {
	b.mu.Lock()
	if b.closed {
		err := b.closeErr
		b.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return FailedWrite(err)
	}
	op.future = NewWriteFuture()
	b.queue = append(b.queue, op)
	b.pending += len(op.data)
	if b.writable && b.pending > b.high {
		b.writable = false
		debug.Log(debug.Channel, "writability changed", "writable", false, "pending", b.pending)
	}
	b.cond.Signal()
	b.mu.Unlock()
	return op.future
}

// NotifyClose registers fn to run once when the channel closes.
func (b *Buffered) NotifyClose(fn func()) func() {
	b.mu.Lock()
	if b.hooksFired {
		b.mu.Unlock()
		fn()
		return func() {}
	}
	b.hookSeq++
	id := b.hookSeq
	b.closeHooks[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.closeHooks, id)
		b.mu.Unlock()
	}
}

// NotifyWritable registers fn to run once the channel is writable again.
func (b *Buffered) NotifyWritable(fn func()) {
	b.mu.Lock()
	if b.closed || b.writable {
		b.mu.Unlock()
		fn()
		return
	}
	b.writableHooks = append(b.writableHooks, fn)
	b.mu.Unlock()
}

// Close stops accepting writes, waits for queued writes to finish and
// releases the underlying connection, if any. It is safe to call more than
// once.
func (b *Buffered) Close() error {
	b.mu.Lock()
	b.closed = true
	hooks := b.takeHooksLocked()
	b.cond.Broadcast()
	b.mu.Unlock()
	fire(hooks)

	<-b.done
	return b.release()
}

// Abort closes the channel because of err without draining it. Queued
// writes fail with err and a write in progress is interrupted. Close must
// still be called to wait for the writer and release the connection.
func (b *Buffered) Abort(err error) {
	if err == nil {
		err = ErrClosed
	}
	b.abort(err)
}

// abort closes the channel because of err, failing all queued writes.
func (b *Buffered) abort(err error) {
	b.mu.Lock()
	if b.closed && b.closeErr != nil {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	queued := b.queue
	b.queue = nil
	b.pending = 0
	hooks := b.takeHooksLocked()
	b.cond.Broadcast()
	b.mu.Unlock()

	debug.Log(debug.Channel, "channel aborted", "error", err, "queued", len(queued))
	for _, op := range queued {
		op.future.Complete(err)
	}
	fire(hooks)

	// Unblock a write stuck on a peer that stopped reading.
	if b.interrupt != nil {
		if err := b.interrupt(); err != nil {
			debug.Log(debug.Channel, "interrupting write", "error", err)
		}
		return
	}
	b.release()
}

// takeHooksLocked collects close hooks (once) and pending writability
// hooks so waiters observe the closure.
func (b *Buffered) takeHooksLocked() []func() {
	hooks := b.writableHooks
	b.writableHooks = nil
	if !b.hooksFired {
		b.hooksFired = true
		for _, fn := range b.closeHooks {
			hooks = append(hooks, fn)
		}
		b.closeHooks = nil
	}
	return hooks
}

func (b *Buffered) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		op := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		err := b.perform(op)

		b.mu.Lock()
		b.pending -= len(op.data)
		if b.pending < 0 {
			b.pending = 0
		}
		var resumed []func()
		if !b.writable && b.pending <= b.low {
			b.writable = true
			resumed = b.writableHooks
			b.writableHooks = nil
			debug.Log(debug.Channel, "writability changed", "writable", true, "pending", b.pending)
		}
		b.mu.Unlock()

		op.future.Complete(err)
		fire(resumed)

		if err != nil {
			b.logger.Debug("channel write failed", "error", err)
			b.abort(err)
			return
		}
	}
}

func (b *Buffered) perform(op *writeOp) error {
	if b.writeTimeout > 0 && b.setDeadline != nil {
		if err := b.setDeadline(time.Now().Add(b.writeTimeout)); err != nil {
			return err
		}
	}
	if op.isHead {
		return b.head(op.status, op.header)
	}
	if len(op.data) > 0 {
		if _, err := b.w.Write(op.data); err != nil {
			return err
		}
	}
	if b.flush != nil {
		return b.flush()
	}
	return nil
}

func (b *Buffered) release() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopWatch != nil {
			b.stopWatch()
		}
		if b.closeFn != nil {
			err = b.closeFn()
		}
	})
	return err
}

func fire(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
