// Package protocol defines the wire format of the shared realtime connection.
//
// Every frame is a JSON text message holding one Envelope:
//
//	// Client → Server
//	{"type":"start_stream","streamId":"stream_01H…","kind":"script_generation","params":{"topic":"AI"}}
//	{"type":"stop_stream","streamId":"stream_01H…"}
//	{"type":"heartbeat"}
//
//	// Server → Client
//	{"type":"stream_started","streamId":"srv-7","clientStreamId":"stream_01H…"}
//	{"type":"progress","streamId":"srv-7","payload":{…}}
//	{"type":"stream_stopped","streamId":"srv-7"}
//	{"type":"error","streamId":"srv-7","code":"quota","message":"limit reached"}
//	{"type":"heartbeat"}
//
// Envelopes carrying a streamId belong to exactly one stream; envelopes
// without one are broadcast to every subscriber.
package protocol
