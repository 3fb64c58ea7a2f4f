// Package stream defines the reactive-streams contract used to produce
// response bodies, plus a few demand-driven sources.
//
// A Publisher emits byte chunks to a single Subscriber. The Subscriber
// controls the pace by calling Subscription.Request; a Publisher never
// emits more chunks than were requested. This is what lets a slow
// network connection hold back a fast producer without buffering.
//
// # Sources
//
//   - Pull adapts a blocking next function (file reads, database rows)
//   - FromChunks emits a fixed set of chunks
//   - FromReader reads fixed-size chunks from an io.Reader
//   - Failed signals an error right after subscription
//
// All sources bound synchronous recursion: a Request made from inside
// OnNext only adds demand, and the emitting loop picks it up.
package stream
