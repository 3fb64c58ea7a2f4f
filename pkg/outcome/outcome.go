// Package outcome reports that the processing of one request has
// concluded, successfully or not.
package outcome

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome describes how a response ended.
type Outcome struct {
	SessionID    string
	Status       int
	BytesWritten int64
	Writes       int
	Duration     time.Duration

	// Err is nil on success.
	Err error
}

// Succeeded reports whether the response was fully transmitted.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Listener receives an Outcome.
type Listener func(Outcome)

// Notifier broadcasts a single Outcome to its listeners. Notify takes
// effect at most once; listeners that subscribe afterwards receive the
// stored outcome immediately.
//
// The zero value is ready to use. All methods are safe for concurrent
// access.
type Notifier struct {
	listenerCount atomic.Int32

	mu sync.Mutex
	// In subscription order; unsubscribed entries are left with a nil fn
	// until the next compaction.
	listeners []*listenerEntry
	fired     bool
	outcome   Outcome
}

type listenerEntry struct {
	fn Listener
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn and returns a function that unregisters it.
// Listeners are notified in the order they subscribed.
func (n *Notifier) Subscribe(fn Listener) (unsubscribe func()) {
	n.mu.Lock()
	if n.fired {
		o := n.outcome
		n.mu.Unlock()
		fn(o)
		return func() {}
	}
	if live := int(n.listenerCount.Load()); len(n.listeners) > 2*live+8 {
		n.compactLocked()
	}
	e := &listenerEntry{fn: fn}
	n.listeners = append(n.listeners, e)
	n.listenerCount.Add(1)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if e.fn != nil {
			e.fn = nil
			n.listenerCount.Add(-1)
		}
	}
}

func (n *Notifier) compactLocked() {
	live := n.listeners[:0]
	for _, e := range n.listeners {
		if e.fn != nil {
			live = append(live, e)
		}
	}
	clear(n.listeners[len(live):])
	n.listeners = live
}

// HasListeners reports whether anyone is waiting for the outcome.
func (n *Notifier) HasListeners() bool {
	return n.listenerCount.Load() > 0
}

// Notify delivers o to all listeners. It returns false, and does nothing,
// if an outcome was already delivered.
func (n *Notifier) Notify(o Outcome) bool {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return false
	}
	n.fired = true
	n.outcome = o
	listeners := make([]Listener, 0, n.listenerCount.Load())
	for _, e := range n.listeners {
		if e.fn != nil {
			listeners = append(listeners, e.fn)
			e.fn = nil
		}
	}
	n.listeners = nil
	n.listenerCount.Store(0)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(o)
	}
	return true
}

// Outcome returns the delivered outcome, if any.
func (n *Notifier) Outcome() (Outcome, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outcome, n.fired
}
