package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/validate"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/streams"
)

// SubscribeOption customizes a Subscription.
type SubscribeOption func(*Subscription)

// WithExclusivePerKind keeps at most one live stream per kind: starting a
// stream stops the subscription's previous live stream of the same kind.
func WithExclusivePerKind() SubscribeOption {
	return func(s *Subscription) {
		s.exclusive = true
	}
}

// Subscription is one feature's handle on the shared connection. It only
// ever sees messages of the streams it started plus broadcasts.
type Subscription struct {
	id        string
	client    *Client
	exclusive bool

	mu      sync.Mutex
	lastErr error
	closed  bool
}

// ID returns the subscriber id that owns this subscription's streams.
func (s *Subscription) ID() string {
	return s.id
}

// StartStream requests a stream of kind. params is marshaled to JSON; a
// json.RawMessage passes through untouched.
//
// The id is returned even on failure: when the connection is not open the
// stream is already Failed, OnError has fired with a NotConnectedError and
// the same error is returned.
func (s *Subscription) StartStream(kind string, params any) (string, error) {
	if s.isClosed() {
		return "", rterrors.ErrClosed
	}

	if err := validate.Kind(kind); err != nil {
		return "", err
	}
	raw, err := protocol.RawValue(params)
	if err != nil {
		return "", err
	}
	if err := validate.Params(raw); err != nil {
		return "", err
	}

	if s.exclusive {
		for _, h := range s.client.registry.Live(s.id) {
			if h.Kind == kind {
				s.client.logger.Debug("Replacing stream",
					zap.String("subscriber_id", s.id),
					zap.String("stream_id", h.ID),
					zap.String("kind", kind))
				s.client.registry.Stop(h.ID)
			}
		}
	}

	streamID, err := s.client.registry.Start(s.id, kind, raw)
	if err != nil {
		s.setErr(err)
	}
	return streamID, err
}

// StopStream cancels one of this subscription's streams. Unknown, foreign
// and already finished ids are ignored.
func (s *Subscription) StopStream(streamID string) {
	owner, ok := s.client.registry.OwnerOf(streamID)
	if !ok || owner != s.id {
		s.client.logger.Debug("Stop ignored for stream not owned by subscriber",
			zap.String("subscriber_id", s.id),
			zap.String("stream_id", streamID))
		return
	}
	s.client.registry.Stop(streamID)
}

// SendMessage sends an envelope as is, for example a heartbeat. It fails
// fast when the connection is not open.
func (s *Subscription) SendMessage(env protocol.Envelope) error {
	if s.isClosed() {
		return rterrors.ErrClosed
	}
	err := s.client.supervisor.Send(env)
	if err != nil {
		s.setErr(err)
	}
	return err
}

// IsConnected reports whether the shared connection is Open.
func (s *Subscription) IsConnected() bool {
	return s.client.IsConnected()
}

// IsConnecting reports whether the shared connection is being dialed.
func (s *Subscription) IsConnecting() bool {
	return s.client.IsConnecting()
}

// Err returns the last error this subscription observed, cleared by the
// next connect. It falls back to the connection's error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	err := s.lastErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.client.Err()
}

// Streams returns this subscription's retained stream handles.
func (s *Subscription) Streams() []streams.Handle {
	var out []streams.Handle
	for _, h := range s.client.registry.Snapshot() {
		if h.Owner == s.id {
			out = append(out, h)
		}
	}
	return out
}

// Close stops the subscription's live streams and unregisters it. The
// shared connection stays up for other subscribers. Closing twice is a
// no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Unregister first so the stop confirmations are not delivered
	s.client.forget(s.id)
	for _, h := range s.client.registry.Live(s.id) {
		s.client.registry.Stop(h.ID)
	}
	s.client.logger.Debug("Unsubscribed", zap.String("subscriber_id", s.id))
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
