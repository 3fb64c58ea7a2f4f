package observability

import (
	"errors"

	"github.com/bassosimone/errclass"

	"github.com/rhuss/trickle/pkg/outcome"
	"github.com/rhuss/trickle/pkg/transmit"
)

// TransmitObserver records transmitter events in the transmit metrics.
type TransmitObserver struct{}

var _ transmit.Observer = TransmitObserver{}

// SessionStarted implements transmit.Observer.
func (TransmitObserver) SessionStarted() {
	TransmissionsActive.Inc()
}

// ChunkWritten implements transmit.Observer.
func (TransmitObserver) ChunkWritten(n int) {
	TransmitWritesTotal.Inc()
	TransmitBytesTotal.Add(float64(n))
}

// WriteFailed implements transmit.Observer.
func (TransmitObserver) WriteFailed(err error) {
	TransmitWriteErrorsTotal.WithLabelValues(ClassifyError(err)).Inc()
}

// WritabilityStalled implements transmit.Observer.
func (TransmitObserver) WritabilityStalled() {
	WritabilityStallsTotal.Inc()
}

// SessionEnded implements transmit.Observer.
func (TransmitObserver) SessionEnded(o outcome.Outcome, _ transmit.State) {
	TransmissionsActive.Dec()
	TransmitOutcomesTotal.WithLabelValues(OutcomeLabel(o)).Inc()
}

// OutcomeLabel maps an outcome to "success", "cancelled" or "failure".
func OutcomeLabel(o outcome.Outcome) string {
	switch {
	case o.Err == nil:
		return "success"
	case errors.Is(o.Err, transmit.ErrCancelled), errors.Is(o.Err, transmit.ErrChannelClosed):
		return "cancelled"
	default:
		return "failure"
	}
}

// ClassifyError maps a write error to a short class such as ECONNRESET or
// ETIMEDOUT.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	return errclass.New(err)
}
