package stream

import (
	"math"
	"sync"
)

// Map returns a publisher that emits fn(chunk) for every chunk of pub.
// Demand and cancellation pass through unchanged.
func Map(pub Publisher, fn func([]byte) []byte) Publisher {
	return PublisherFunc(func(s Subscriber) {
		pub.Subscribe(&mapSubscriber{Subscriber: s, fn: fn})
	})
}

type mapSubscriber struct {
	Subscriber
	fn func([]byte) []byte
}

func (m *mapSubscriber) OnNext(chunk []byte) {
	m.Subscriber.OnNext(m.fn(chunk))
}

// Concat returns a publisher that emits all chunks of each source in turn.
// A source is subscribed only after the previous one completed; the first
// error ends the stream.
func Concat(sources ...Publisher) Publisher {
	return PublisherFunc(func(s Subscriber) {
		c := &concatSubscription{down: s, sources: sources}
		s.OnSubscribe(c)
		c.subscribeNext()
	})
}

type concatSubscription struct {
	down    Subscriber
	sources []Publisher

	mu        sync.Mutex
	idx       int
	demand    int64
	cur       Subscription
	cancelled bool
	invalid   bool
}

func (c *concatSubscription) Request(n int64) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	if n <= 0 {
		c.invalid = true
	} else {
		c.demand = addDemand(c.demand, n)
	}
	cur := c.cur
	c.mu.Unlock()
	if cur != nil {
		cur.Request(n)
	}
}

func (c *concatSubscription) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	cur := c.cur
	c.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
}

// subscribeNext subscribes the next source, or completes downstream when
// there is none left.
func (c *concatSubscription) subscribeNext() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	if c.idx == len(c.sources) {
		c.mu.Unlock()
		c.down.OnComplete()
		return
	}
	src := c.sources[c.idx]
	c.idx++
	c.mu.Unlock()
	src.Subscribe(&concatInner{c: c})
}

type concatInner struct {
	c *concatSubscription
}

func (i *concatInner) OnSubscribe(sub Subscription) {
	c := i.c
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.cur = sub
	d, invalid := c.demand, c.invalid
	c.mu.Unlock()
	if invalid {
		sub.Request(0)
		return
	}
	if d > 0 {
		sub.Request(d)
	}
}

func (i *concatInner) OnNext(chunk []byte) {
	c := i.c
	c.mu.Lock()
	if c.demand != math.MaxInt64 {
		c.demand--
	}
	c.mu.Unlock()
	c.down.OnNext(chunk)
}

func (i *concatInner) OnError(err error) {
	i.c.down.OnError(err)
}

func (i *concatInner) OnComplete() {
	i.c.subscribeNext()
}
