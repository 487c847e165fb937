// Command devserver runs a local WebSocket endpoint speaking the realtime
// stream protocol, for developing features without the content studio
// backend.
//
// Usage:
//
//	./devserver -addr :8080 -dev
//	./devserver -token secret -server-ids
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
