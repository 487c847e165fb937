// Package transport owns the single physical connection to the realtime endpoint.
//
// A Transport dials, sends text frames and reports inbound frames and
// unexpected closure to a Handler. It knows nothing about envelopes, streams
// or reconnection; the supervisor layers those on top.
//
// The WebSocket implementation:
//   - presents a bearer token from a TokenSource on every handshake
//   - serializes writes (data frames and pings) through one goroutine
//   - extends the read deadline on every frame and pong, so a silent peer
//     is detected within PongWait
//   - rejects Send with ErrQueueFull instead of blocking when the outbound
//     buffer is full
//
// Example Usage:
//
//	tr := transport.NewWebSocket(transport.Options{
//	    URL:    "wss://studio.example.com/ws",
//	    Tokens: transport.NewRESTTokenSource("https://studio.example.com/api/realtime-token", 10*time.Second),
//	})
package transport
