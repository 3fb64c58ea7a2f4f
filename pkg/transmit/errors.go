package transmit

import "errors"

var (
	// ErrChannelClosed reports that the channel closed before the response
	// was fully written.
	ErrChannelClosed = errors.New("transmit: channel closed")

	// ErrProtocolViolation reports a publisher signal that breaks the
	// reactive-streams contract, such as OnNext without demand.
	ErrProtocolViolation = errors.New("transmit: reactive-streams protocol violation")

	// ErrCancelled reports that the transmission was cancelled with Cancel.
	ErrCancelled = errors.New("transmit: cancelled")

	// ErrHeadersCommitted is returned when changing the status or headers
	// after the response head was written.
	ErrHeadersCommitted = errors.New("transmit: headers already committed")
)
