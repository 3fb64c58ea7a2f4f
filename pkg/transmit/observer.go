package transmit

import "github.com/rhuss/trickle/pkg/outcome"

// Observer receives lifecycle events of transmissions, typically to
// record metrics. SessionStarted is called by New and SessionEnded exactly
// once when the transmission reaches a terminal state. Methods are called
// without any transmitter lock held and may be called from different
// goroutines.
type Observer interface {
	SessionStarted()
	ChunkWritten(n int)
	WriteFailed(err error)
	WritabilityStalled()
	SessionEnded(o outcome.Outcome, final State)
}

type nopObserver struct{}

func (nopObserver) SessionStarted()                     {}
func (nopObserver) ChunkWritten(int)                    {}
func (nopObserver) WriteFailed(error)                   {}
func (nopObserver) WritabilityStalled()                 {}
func (nopObserver) SessionEnded(outcome.Outcome, State) {}
