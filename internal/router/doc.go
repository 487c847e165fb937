// Package router dispatches inbound envelopes to subscribers.
//
// A Router is the supervisor's observer. For each frame it decodes an
// envelope and:
//   - drops malformed frames with a diagnostic and no callback
//   - sends envelopes carrying a streamId to the owning subscriber only,
//     after the stream registry has reconciled the stream's status
//   - broadcasts envelopes without a streamId to every subscriber once,
//     in registration order
//
// Connect, disconnect and connection errors are broadcast to everyone;
// stream failures go to the stream's owner alone.
package router
