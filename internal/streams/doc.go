// Package streams tracks the logical streams multiplexed over the shared
// connection.
//
// Each stream is a Handle moving through a small state machine:
//
//	Requested -> Active -> Stopped
//	    |          |
//	    +----------+----> Failed
//	    +---------------> Stopped
//
// Stopped and Failed are terminal. Start is optimistic: it returns a
// client-generated id before the server acknowledges, and the
// stream_started acknowledgement may re-key the handle to a server id.
// A Requested stream that is never acknowledged fails after AckTimeout.
package streams
