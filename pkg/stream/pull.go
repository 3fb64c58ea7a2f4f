package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
)

// ErrAlreadySubscribed is signalled to a second subscriber of a
// single-use publisher.
var ErrAlreadySubscribed = errors.New("stream: publisher already has a subscriber")

// NextFunc produces the next chunk. It returns io.EOF, with no chunk, when
// the source is exhausted. The context is cancelled when the subscription
// is cancelled, so blocking implementations should honor it.
type NextFunc func(ctx context.Context) ([]byte, error)

// PullOption configures a publisher created by Pull.
type PullOption func(*pullConfig)

type pullConfig struct {
	exec   Executor
	closer func() error
}

// WithExecutor sets where the emitting loop runs. The default runs it on a
// new goroutine.
func WithExecutor(exec Executor) PullOption {
	return func(c *pullConfig) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithCloser registers a function that releases the underlying source. It is
// called exactly once, after the last call to next, whether the stream
// completed, failed or was cancelled.
func WithCloser(fn func() error) PullOption {
	return func(c *pullConfig) { c.closer = fn }
}

// Pull returns a single-use Publisher that calls next once per requested
// chunk. At most one call to next is in progress at a time, and it runs on
// the configured Executor, never on the goroutine that called Request unless
// the executor is Inline.
func Pull(next NextFunc, opts ...PullOption) Publisher {
	cfg := pullConfig{exec: Async}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &pullPublisher{next: next, cfg: cfg}
}

type pullPublisher struct {
	next       NextFunc
	cfg        pullConfig
	subscribed atomic.Bool
}

func (p *pullPublisher) Subscribe(s Subscriber) {
	if !p.subscribed.CompareAndSwap(false, true) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(ErrAlreadySubscribed)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ps := &pullSubscription{
		sub:    s,
		next:   p.next,
		exec:   p.cfg.exec,
		closer: p.cfg.closer,
		ctx:    ctx,
		cancel: cancel,
	}
	s.OnSubscribe(ps)
}

type pullSubscription struct {
	sub    Subscriber
	next   NextFunc
	exec   Executor
	closer func() error
	ctx    context.Context
	cancel context.CancelFunc

	releaseOnce sync.Once

	mu         sync.Mutex
	requested  int64
	running    bool
	done       bool
	invalidReq error
}

func (s *pullSubscription) Request(n int64) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if n <= 0 {
		if s.invalidReq == nil {
			s.invalidReq = fmt.Errorf("%w: got %d", ErrInvalidDemand, n)
		}
	} else {
		s.requested = addDemand(s.requested, n)
	}
	start := !s.running
	s.running = true
	s.mu.Unlock()

	if start {
		s.exec(s.drain)
	}
}

func (s *pullSubscription) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	idle := !s.running
	s.mu.Unlock()

	s.cancel()
	if idle {
		s.release()
	}
}

// drain emits chunks while there is demand. Only one drain runs at a time;
// Request calls made meanwhile (including from inside OnNext) only add
// demand.
func (s *pullSubscription) drain() {
	for {
		s.mu.Lock()
		if s.done {
			s.running = false
			s.mu.Unlock()
			s.release()
			return
		}
		if err := s.invalidReq; err != nil {
			s.done = true
			s.running = false
			s.mu.Unlock()
			s.release()
			s.sub.OnError(err)
			return
		}
		if s.requested == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		if s.requested != math.MaxInt64 {
			s.requested--
		}
		s.mu.Unlock()

		chunk, err := s.next(s.ctx)

		s.mu.Lock()
		if s.done {
			s.running = false
			s.mu.Unlock()
			s.release()
			return
		}
		if err != nil {
			s.done = true
			s.running = false
		}
		s.mu.Unlock()

		switch {
		case errors.Is(err, io.EOF):
			s.release()
			s.sub.OnComplete()
			return
		case err != nil:
			s.release()
			s.sub.OnError(err)
			return
		}
		s.sub.OnNext(chunk)
	}
}

func (s *pullSubscription) release() {
	s.releaseOnce.Do(func() {
		s.cancel()
		if s.closer != nil {
			s.closer()
		}
	})
}

// addDemand adds n to cur, saturating at math.MaxInt64 which means
// unbounded.
func addDemand(cur, n int64) int64 {
	if cur > math.MaxInt64-n {
		return math.MaxInt64
	}
	return cur + n
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}
