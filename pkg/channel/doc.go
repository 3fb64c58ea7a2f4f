// Package channel is the network-facing side of a response: a connection
// that can be open or closed, writable or congested, and that completes
// each write asynchronously.
//
// The Channel interface is what a transmitter writes to. Optional
// interfaces let a channel report closure (CloseNotifier), the end of a
// congestion episode (WritabilityNotifier), and carry an HTTP response
// head (HeadWriter).
//
// Buffered is the implementation used by the server. Writes are queued
// and performed in order by one writer goroutine per channel; the queue
// size in bytes drives writability through a pair of water marks. A
// Buffered channel is built over a net.Conn with FromConn, over an
// http.ResponseWriter with FromResponseWriter, or over any io.Writer with
// New.
package channel
