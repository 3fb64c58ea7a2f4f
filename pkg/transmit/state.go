package transmit

import "strconv"

// State is the position of a Transmitter in its lifecycle.
type State int32

const (
	StateIdle          State = iota // not subscribed yet
	StateSubscribed                 // subscription stored, no demand yet
	StateAwaitingChunk              // waiting for OnNext (or for the channel to drain)
	StateWriting                    // one write outstanding on the channel
	StateCompleted                  // all chunks written, success notified
	StateFailed                     // publisher, channel or protocol failure notified
	StateCancelled                  // cancelled externally or by channel closure
)

var stateTexts = map[State]string{
	StateIdle:          "idle",
	StateSubscribed:    "subscribed",
	StateAwaitingChunk: "awaiting-chunk",
	StateWriting:       "writing",
	StateCompleted:     "completed",
	StateFailed:        "failed",
	StateCancelled:     "cancelled",
}

func (s State) String() string {
	if t, ok := stateTexts[s]; ok {
		return t
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Phase maps the state to the coarse session phase: "not-started",
// "in-flight", "completed", "failed" or "cancelled".
func (s State) Phase() string {
	switch {
	case s == StateIdle:
		return "not-started"
	case !s.Terminal():
		return "in-flight"
	default:
		return s.String()
	}
}
