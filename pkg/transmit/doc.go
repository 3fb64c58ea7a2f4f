// Package transmit writes a reactive stream of byte chunks to a network
// channel.
//
// A Transmitter is a stream.Subscriber. It keeps at most one chunk of
// demand outstanding and at most one write in flight:
//
//	Idle -> Subscribed -> AwaitingChunk -> Writing -> AwaitingChunk -> ...
//	                                             \-> Completed | Failed | Cancelled
//
// The next chunk is requested only after the previous write succeeded and
// the channel is writable. When the channel closes, the publisher is
// cancelled. Every transmission ends with exactly one outcome on its
// outcome.Notifier: success, or a failure wrapping ErrChannelClosed,
// ErrCancelled, ErrProtocolViolation, a write error or a publisher error.
package transmit
