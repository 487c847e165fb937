// Package supervisor owns the shared realtime connection.
//
// A Supervisor wraps a transport.Transport with the connection state machine
//
//	Idle -> Connecting -> Open -> Reconnecting -> Open ... -> Closed
//
// and reconnects with exponential backoff and jitter after a failed dial or
// a lost connection. A successful Open resets the backoff. When MaxRetries
// is configured and spent, the state becomes Closed and the observer gets a
// single terminal OnError.
//
// Sends are never queued: Send returns a NotConnectedError unless the state
// is Open. Streams are not resumed after a reconnect; callers restart them.
//
// One Supervisor serves the whole process. It is created by the composition
// root and shared by reference, never stored in a package variable.
package supervisor
