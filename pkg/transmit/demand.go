package transmit

// prefetch is the most demand ever outstanding. One chunk at a time keeps
// memory bounded and makes single-write ordering trivial.
const prefetch = 1

// demandCounter tracks chunks requested from the publisher against chunks
// received. received never exceeds requested.
type demandCounter struct {
	requested int64
	received  int64
}

func (d *demandCounter) outstanding() int64 {
	return d.requested - d.received
}

// request records one more requested chunk, unless the prefetch window is
// already full.
func (d *demandCounter) request() bool {
	if d.outstanding() >= prefetch {
		return false
	}
	d.requested++
	return true
}

// receive records a delivered chunk. It reports false if nothing was
// outstanding, which is a protocol violation by the publisher.
func (d *demandCounter) receive() bool {
	if d.outstanding() <= 0 {
		return false
	}
	d.received++
	return true
}

// writeTicket is the single write in flight for a session.
type writeTicket struct {
	seq  int
	size int
}
