// Package errors defines the error taxonomy of the realtime connection layer.
//
// Each failure class is a concrete type usable with errors.As, and the
// common conditions are sentinels usable with errors.Is:
//
//	if rterrors.IsNotConnected(err) { ... }
//	var srv *rterrors.ServerReportedError
//	if errors.As(err, &srv) { log(srv.StreamID, srv.Message) }
package errors

import (
	"errors"
	"fmt"
)

// Sentinels for the conditions callers branch on.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("connection closed")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrConnectionLost   = errors.New("connection lost")
	ErrAckTimeout       = errors.New("stream acknowledgement timed out")
	ErrQueueFull        = errors.New("outbound queue full")
	ErrUnknownStream    = errors.New("unknown stream")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrServerReported   = errors.New("server reported error")
)

// ConnectionError reports that the transport failed to open or maintain
// the shared connection.
type ConnectionError struct {
	Op      string // "dial", "read", "reconnect"
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("connection %s failed (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotConnectedError reports a send attempted while the connection was not open.
type NotConnectedError struct {
	State string
	Type  string // envelope type that was rejected
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("cannot send %q: connection is %s", e.Type, e.State)
}

func (e *NotConnectedError) Unwrap() error { return ErrNotConnected }

// UnknownStreamError reports a reference to a stream id the registry does
// not track.
type UnknownStreamError struct {
	StreamID string
	Type     string
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("unknown stream %q (type %q)", e.StreamID, e.Type)
}

func (e *UnknownStreamError) Unwrap() error { return ErrUnknownStream }

// MalformedFrameError reports inbound data that failed to decode.
type MalformedFrameError struct {
	Size int
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", e.Size, e.Err)
}

func (e *MalformedFrameError) Unwrap() []error { return []error{ErrMalformedFrame, e.Err} }

// ServerReportedError carries an {type:"error"} envelope. StreamID is empty
// for connection-wide errors.
type ServerReportedError struct {
	StreamID string
	Code     string
	Message  string
}

func (e *ServerReportedError) Error() string {
	if e.StreamID == "" {
		return fmt.Sprintf("server error: %s", e.describe())
	}
	return fmt.Sprintf("server error on stream %s: %s", e.StreamID, e.describe())
}

func (e *ServerReportedError) Unwrap() error { return ErrServerReported }

func (e *ServerReportedError) describe() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// StreamError wraps a stream-scoped failure with the stream it belongs to.
type StreamError struct {
	StreamID string
	Kind     string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s (%s): %v", e.StreamID, e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsNotConnected reports whether err is a NotConnected condition.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTerminal reports whether err means the shared connection will not
// recover without an explicit Connect.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrClosed)
}

// Classify returns a stable label for metrics and logs.
func Classify(err error) string {
	var (
		ce  *ConnectionError
		srv *ServerReportedError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ce):
		return "connection"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrUnknownStream):
		return "unknown_stream"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.As(err, &srv):
		return "server_reported"
	case errors.Is(err, ErrAckTimeout):
		return "ack_timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
