package transmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/trickle/pkg/channel"
	"github.com/rhuss/trickle/pkg/debug"
	"github.com/rhuss/trickle/pkg/outcome"
	"github.com/rhuss/trickle/pkg/stream"
)

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithStatus sets the initial response status. The default is 200.
func WithStatus(code int) Option {
	return func(t *Transmitter) { t.status = code }
}

// WithHeader sets the initial response headers. The header is copied.
func WithHeader(h http.Header) Option {
	return func(t *Transmitter) { t.header = h.Clone() }
}

// WithSessionID overrides the generated session identifier, e.g. with the
// request ID.
func WithSessionID(id string) Option {
	return func(t *Transmitter) { t.sessionID = id }
}

// WithNotifier sets the notifier that receives the outcome. By default
// each transmitter owns a fresh one.
func WithNotifier(n *outcome.Notifier) Option {
	return func(t *Transmitter) { t.notifier = n }
}

// WithLogger sets the logger for session events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transmitter) { t.logger = l }
}

// WithObserver registers lifecycle callbacks, e.g. for metrics.
func WithObserver(o Observer) Option {
	return func(t *Transmitter) { t.observer = o }
}

// Transmitter subscribes to a chunk publisher and writes every chunk to a
// channel, one write at a time. It requests the next chunk only after the
// previous write succeeded, cancels the publisher when the channel closes,
// and notifies exactly one outcome.
//
// Subscription and notifier calls are never made while the internal lock is
// held. Channel writes are queued under the lock so no write is issued after
// the session reached a terminal state.
type Transmitter struct {
	ch        channel.Channel
	notifier  *outcome.Notifier
	logger    *slog.Logger
	observer  Observer
	session   *Session
	done      chan struct{}
	status    int
	header    http.Header
	sessionID string

	cancelOnce sync.Once

	mu               sync.Mutex
	state            State
	sub              stream.Subscription
	demand           demandCounter
	inflight         *writeTicket
	seq              int
	completePending  bool
	awaitingWritable bool
	stopClose        func()
}

// New creates a transmitter writing to ch. It starts working once it is
// subscribed to a publisher.
func New(ch channel.Channel, opts ...Option) *Transmitter {
	t := &Transmitter{
		ch:       ch,
		logger:   slog.Default(),
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.notifier == nil {
		t.notifier = outcome.NewNotifier()
	}
	t.session = newSession(t.sessionID, t.status, t.header)
	t.header = nil
	t.observer.SessionStarted()
	return t
}

// Transmit subscribes a new transmitter for ch to pub and returns it.
func Transmit(pub stream.Publisher, ch channel.Channel, opts ...Option) *Transmitter {
	t := New(ch, opts...)
	pub.Subscribe(t)
	return t
}

// Session returns the session state.
func (t *Transmitter) Session() *Session { return t.session }

// Notifier returns the notifier that receives the outcome.
func (t *Transmitter) Notifier() *outcome.Notifier { return t.notifier }

// State returns the current state.
func (t *Transmitter) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed after the outcome has been notified.
func (t *Transmitter) Done() <-chan struct{} { return t.done }

// Wait blocks until the transmission ended or ctx is done.
func (t *Transmitter) Wait(ctx context.Context) (outcome.Outcome, error) {
	select {
	case <-t.done:
		o, _ := t.notifier.Outcome()
		return o, nil
	case <-ctx.Done():
		return outcome.Outcome{}, ctx.Err()
	}
}

// Cancel aborts the transmission: the publisher is cancelled and a failure
// outcome wrapping ErrCancelled is notified. It has no effect once the
// transmission ended.
func (t *Transmitter) Cancel() {
	t.terminate(StateCancelled, ErrCancelled, true)
}

// OnSubscribe implements stream.Subscriber.
func (t *Transmitter) OnSubscribe(sub stream.Subscription) {
	t.mu.Lock()
	if t.sub != nil || t.state != StateIdle {
		terminal := t.state.Terminal()
		t.mu.Unlock()
		sub.Cancel()
		if !terminal {
			t.fail(fmt.Errorf("%w: OnSubscribe called twice", ErrProtocolViolation))
		}
		return
	}
	t.sub = sub
	t.setStateLocked(StateSubscribed)
	t.mu.Unlock()

	debug.Log(debug.Transmit, "subscribed", "session", t.session.id)

	if cn, ok := t.ch.(channel.CloseNotifier); ok {
		stop := cn.NotifyClose(func() {
			t.terminate(StateCancelled, ErrChannelClosed, true)
		})
		t.mu.Lock()
		if t.state.Terminal() {
			t.mu.Unlock()
			stop()
			return
		}
		t.stopClose = stop
		t.mu.Unlock()
	}
	t.requestNext()
}

// OnNext implements stream.Subscriber.
func (t *Transmitter) OnNext(chunk []byte) {
	open := t.ch.IsOpen()

	t.mu.Lock()
	if t.state.Terminal() {
		state := t.state
		t.mu.Unlock()
		debug.Log(debug.Transmit, "chunk after end dropped", "session", t.session.id, "state", state, "size", len(chunk))
		return
	}
	if t.state != StateAwaitingChunk || !t.demand.receive() {
		state := t.state
		t.mu.Unlock()
		t.fail(fmt.Errorf("%w: OnNext in state %s without demand", ErrProtocolViolation, state))
		return
	}
	if !open {
		t.mu.Unlock()
		t.fail(ErrChannelClosed)
		return
	}

	t.seq++
	ticket := &writeTicket{seq: t.seq, size: len(chunk)}
	t.inflight = ticket
	t.setStateLocked(StateWriting)
	t.commitHeadLocked()
	f := t.ch.WriteAndFlush(chunk)
	t.mu.Unlock()

	if debug.TraceIsEnabled(debug.Transmit) {
		debug.Trace(debug.Transmit, "chunk queued", "session", t.session.id, "seq", ticket.seq, "data", debug.Truncate(chunk, 64))
	}
	f.AddListener(func(err error) {
		t.writeComplete(ticket, err)
	})
}

// OnError implements stream.Subscriber.
func (t *Transmitter) OnError(err error) {
	t.terminate(StateFailed, fmt.Errorf("publisher failed: %w", err), false)
}

// OnComplete implements stream.Subscriber. A completion arriving while a
// write is in flight takes effect when that write succeeds.
func (t *Transmitter) OnComplete() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if t.state == StateWriting {
		t.completePending = true
		t.mu.Unlock()
		debug.Log(debug.Transmit, "completion deferred until write finishes", "session", t.session.id)
		return
	}
	t.mu.Unlock()
	t.terminate(StateCompleted, nil, false)
}

func (t *Transmitter) writeComplete(ticket *writeTicket, err error) {
	t.mu.Lock()
	if t.inflight != ticket {
		t.mu.Unlock()
		return
	}
	t.inflight = nil
	if err == nil {
		t.session.recordWrite(ticket.size)
	}
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.mu.Unlock()
		if errors.Is(err, channel.ErrClosed) {
			t.terminate(StateCancelled, ErrChannelClosed, true)
			return
		}
		t.observer.WriteFailed(err)
		t.fail(fmt.Errorf("write failed: %w", err))
		return
	}
	complete := t.completePending
	if !complete {
		t.setStateLocked(StateAwaitingChunk)
	}
	t.mu.Unlock()

	t.observer.ChunkWritten(ticket.size)
	if complete {
		t.terminate(StateCompleted, nil, false)
		return
	}
	if !t.ch.IsOpen() {
		t.fail(ErrChannelClosed)
		return
	}
	t.requestNext()
}

// requestNext asks the publisher for one more chunk. While the channel is
// not writable, the request is held back until it drains.
func (t *Transmitter) requestNext() {
	writable := t.ch.IsWritable() || !t.ch.IsOpen()

	t.mu.Lock()
	if t.state.Terminal() || t.awaitingWritable {
		t.mu.Unlock()
		return
	}
	if wn, ok := t.ch.(channel.WritabilityNotifier); ok && !writable {
		t.awaitingWritable = true
		t.setStateLocked(StateAwaitingChunk)
		t.mu.Unlock()
		t.observer.WritabilityStalled()
		debug.Log(debug.Transmit, "channel not writable, holding demand", "session", t.session.id)
		wn.NotifyWritable(t.resume)
		return
	}
	if !t.demand.request() {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateAwaitingChunk)
	sub := t.sub
	t.mu.Unlock()
	sub.Request(1)
}

func (t *Transmitter) resume() {
	t.mu.Lock()
	if !t.awaitingWritable {
		t.mu.Unlock()
		return
	}
	t.awaitingWritable = false
	t.mu.Unlock()

	if !t.ch.IsOpen() {
		t.terminate(StateCancelled, ErrChannelClosed, true)
		return
	}
	debug.Log(debug.Transmit, "channel writable again", "session", t.session.id)
	t.requestNext()
}

func (t *Transmitter) fail(err error) {
	t.terminate(StateFailed, err, true)
}

// terminate moves to the final state. Only the first caller wins; later
// calls are no-ops.
func (t *Transmitter) terminate(final State, cause error, cancelUpstream bool) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if final == StateCompleted {
		// An empty body still sends its head.
		t.commitHeadLocked()
	}
	t.setStateLocked(final)
	sub := t.sub
	stop := t.stopClose
	t.stopClose = nil
	t.mu.Unlock()

	if cancelUpstream && sub != nil {
		t.cancelOnce.Do(sub.Cancel)
	}
	if stop != nil {
		stop()
	}
	t.finish(final, cause)
}

func (t *Transmitter) finish(final State, cause error) {
	o := outcome.Outcome{
		SessionID:    t.session.id,
		Status:       t.session.Status(),
		BytesWritten: t.session.BytesWritten(),
		Writes:       t.session.Writes(),
		Duration:     time.Since(t.session.started),
		Err:          cause,
	}
	t.observer.SessionEnded(o, final)

	if cause != nil {
		t.logger.Debug("transmission ended",
			"session", o.SessionID,
			"state", final,
			"bytes", o.BytesWritten,
			"writes", o.Writes,
			"error", cause,
		)
	} else {
		debug.Log(debug.Transmit, "transmission completed",
			"session", o.SessionID,
			"bytes", o.BytesWritten,
			"writes", o.Writes,
			"duration", o.Duration,
		)
	}

	t.notifier.Notify(o)
	close(t.done)
}

// commitHeadLocked hands status and headers to the channel the first time
// it is called. Must be called with t.mu held.
func (t *Transmitter) commitHeadLocked() {
	status, header, first := t.session.commit()
	if !first {
		return
	}
	if hw, ok := t.ch.(channel.HeadWriter); ok {
		hw.WriteHead(status, header)
	}
}

func (t *Transmitter) setStateLocked(s State) {
	t.state = s
	t.session.setState(s)
}
