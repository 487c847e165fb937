// Package devserver provides a development WebSocket endpoint that speaks
// the realtime stream protocol.
//
// It stands in for the content studio backend in tests and local work.
//
// Message Types (Client → Server):
//   - start_stream: open a stream; answered by stream_started, then Steps
//     progress envelopes, a result and stream_stopped
//   - stop_stream: cancel a stream; answered by stream_stopped
//   - heartbeat: echoed back without a streamId
//
// Message Types (Server → Client):
//   - stream_started, progress, result, stream_stopped
//   - heartbeat
//   - error: with a streamId for unsupported kinds, without one for
//     malformed or unknown messages
//
// Example Usage:
//
//	srv := devserver.New(devserver.DefaultOptions())
//	router := gin.New()
//	srv.Register(router, "/ws")
package devserver
