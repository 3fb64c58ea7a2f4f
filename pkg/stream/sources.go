package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read size used by FromReader when none is given.
const DefaultChunkSize = 8 << 10

// FromChunks returns a Publisher that emits the given chunks in order and
// then completes. Each subscriber gets its own pass over the chunks. The
// chunks are emitted on the goroutine that requests them.
func FromChunks(chunks ...[]byte) Publisher {
	return PublisherFunc(func(s Subscriber) {
		i := 0
		next := func(context.Context) ([]byte, error) {
			if i >= len(chunks) {
				return nil, io.EOF
			}
			c := chunks[i]
			i++
			return c, nil
		}
		Pull(next, WithExecutor(Inline)).Subscribe(s)
	})
}

// FromReader returns a single-use Publisher that reads chunks of at most
// size bytes from r. Each chunk is a fresh slice, so it stays valid after
// the next read. If r is an io.Closer it is closed when the stream ends.
func FromReader(r io.Reader, size int, opts ...PullOption) Publisher {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var pending error
	next := func(ctx context.Context) ([]byte, error) {
		if pending != nil {
			return nil, pending
		}
		buf := make([]byte, size)
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n, err := r.Read(buf)
			if n > 0 {
				// Report the error with the next call so the data is
				// delivered first.
				pending = err
				return buf[:n], nil
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if c, ok := r.(io.Closer); ok {
		opts = append([]PullOption{WithCloser(c.Close)}, opts...)
	}
	return Pull(next, opts...)
}

// Failed returns a Publisher that signals err right after subscription.
func Failed(err error) Publisher {
	if err == nil {
		err = errors.New("stream: failed publisher")
	}
	return PublisherFunc(func(s Subscriber) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(err)
	})
}
