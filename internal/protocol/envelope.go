package protocol

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// ============================================================================
// Message Types
// ============================================================================

// Control types exchanged over the shared connection.
const (
	TypeStartStream   = "start_stream"
	TypeStopStream    = "stop_stream"
	TypeStreamStarted = "stream_started"
	TypeStreamStopped = "stream_stopped"
	TypeError         = "error"
	TypeHeartbeat     = "heartbeat"
)

// Feature-level types emitted while a stream runs. The layer never
// interprets them; they are listed for servers and tests.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
)

// Stream kinds used by the content studio features.
const (
	KindScriptGeneration = "script_generation"
	KindContentAnalysis  = "content_analysis"
	KindTrendMonitoring  = "trend_monitoring"
	KindNotifications    = "notifications"
)

// ============================================================================
// Envelope
// ============================================================================

// Envelope is a single structured message unit on the wire.
//
// Params and Payload are opaque to this layer and kept as raw JSON so they
// pass through without a decode/encode round trip.
type Envelope struct {
	Type           string          `json:"type"`
	StreamID       string          `json:"streamId,omitempty"`
	ClientStreamID string          `json:"clientStreamId,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`

	// Raw holds the inbound frame exactly as received so features can read
	// fields this struct does not model.
	Raw []byte `json:"-"`
}

// HasStream reports whether the envelope is addressed to a single stream.
func (e Envelope) HasStream() bool {
	return e.StreamID != ""
}

// IsControl reports whether the envelope drives the stream lifecycle.
func (e Envelope) IsControl() bool {
	switch e.Type {
	case TypeStreamStarted, TypeStreamStopped, TypeError:
		return true
	}
	return false
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(e.Payload, v)
}

// RawValue marshals v for use as Params or Payload. A nil v yields nil.
func RawValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ============================================================================
// Constructors
// ============================================================================

// StartStream builds the request that opens a stream.
func StartStream(streamID, kind string, params json.RawMessage) Envelope {
	return Envelope{
		Type:      TypeStartStream,
		StreamID:  streamID,
		Kind:      kind,
		Params:    params,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StopStream builds the request that cancels a stream.
func StopStream(streamID string) Envelope {
	return Envelope{
		Type:      TypeStopStream,
		StreamID:  streamID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Heartbeat builds a keepalive envelope.
func Heartbeat() Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	}
}
