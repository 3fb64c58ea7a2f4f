package stream

import "errors"

// ErrInvalidDemand is signalled through OnError when a subscriber requests
// zero or a negative number of chunks.
var ErrInvalidDemand = errors.New("stream: requested demand must be positive")

// Publisher emits a possibly unbounded sequence of byte chunks to a single
// Subscriber, only as fast as the Subscriber requests them.
type Publisher interface {
	Subscribe(s Subscriber)
}

// Subscriber receives the signals of a Publisher. Signals are serialized:
// no two methods are ever called concurrently, and at most one of OnError
// or OnComplete is called.
type Subscriber interface {
	// OnSubscribe is called once before any other signal.
	OnSubscribe(sub Subscription)

	// OnNext delivers one chunk. It is only called while the subscriber
	// has outstanding demand.
	OnNext(chunk []byte)

	// OnError terminates the stream with a failure.
	OnError(err error)

	// OnComplete terminates the stream successfully.
	OnComplete()
}

// Subscription links one Subscriber to one Publisher.
type Subscription interface {
	// Request adds n to the outstanding demand. n must be positive.
	Request(n int64)

	// Cancel asks the Publisher to stop emitting and release resources.
	// Calling it more than once has no further effect.
	Cancel()
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(s Subscriber)

// Subscribe calls f(s).
func (f PublisherFunc) Subscribe(s Subscriber) {
	f(s)
}

// Executor runs a task, possibly on another goroutine.
type Executor func(task func())

// Inline runs the task on the calling goroutine.
func Inline(task func()) {
	task()
}

// Async runs the task on a new goroutine.
func Async(task func()) {
	go task()
}
