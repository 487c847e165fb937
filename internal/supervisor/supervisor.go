package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/transport"
)

// Observer receives the events of the shared connection. The supervisor
// never holds its lock while calling an observer.
type Observer interface {
	// OnConnect fires after every transition to Open.
	OnConnect()
	// OnFrame delivers an inbound frame from the live connection.
	OnFrame(frame []byte)
	// OnDisconnect fires when an open connection is lost or closed.
	OnDisconnect(err error)
	// OnError fires once when reconnection gives up.
	OnError(err error)
}

// Options configures a Supervisor.
type Options struct {
	Backoff resilience.Settings
	// HeartbeatInterval sends {type:"heartbeat"} while Open; 0 disables
	HeartbeatInterval time.Duration
	// DialTimeout bounds each automatic reconnect attempt
	DialTimeout time.Duration

	Codec   protocol.Codec
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Supervisor owns the connection state machine on top of a Transport.
//
// Connect dials; a failed dial or a lost connection schedules a retry with
// exponential backoff until MaxRetries is spent. Send fails fast unless the
// state is Open. Events belonging to a superseded connection attempt are
// discarded by comparing generations.
type Supervisor struct {
	transport transport.Transport
	codec     protocol.Codec
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	heartbeatInterval time.Duration
	dialTimeout       time.Duration

	mu        sync.Mutex
	state     State
	gen       uint64
	dialing   uint64 // generation of the dial in flight, 0 when none
	backoff   *resilience.Backoff
	retry     *time.Timer
	heartbeat chan struct{}
	lastErr   error
	observer  Observer
}

// New creates an idle supervisor around tr.
func New(tr transport.Transport, opts Options) *Supervisor {
	codec := opts.Codec
	if codec == nil {
		codec = protocol.NewCodec()
	}
	logger := logging.OrNop(opts.Logger)
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}

	s := &Supervisor{
		transport:         tr,
		codec:             codec,
		logger:            logger,
		metrics:           opts.Metrics,
		heartbeatInterval: opts.HeartbeatInterval,
		dialTimeout:       dialTimeout,
		backoff:           resilience.NewBackoff(opts.Backoff),
		observer:          nopObserver{},
	}
	s.metrics.SetConnectionState(Idle.String())
	return s
}

// SetObserver installs the receiver of connection events. It must be called
// before Connect.
func (s *Supervisor) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// WithBackoffRandom replaces the jitter source. Tests use it to make delays
// deterministic.
func (s *Supervisor) WithBackoffRandom(random func() float64) *Supervisor {
	s.mu.Lock()
	s.backoff.WithRandom(random)
	s.mu.Unlock()
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the state is Open.
func (s *Supervisor) IsConnected() bool {
	return s.State() == Open
}

// IsConnecting reports whether a dial is pending or scheduled.
func (s *Supervisor) IsConnecting() bool {
	return s.State().IsConnecting()
}

// Err returns the most recent connection error, or nil once Open.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect dials the endpoint. It is a no-op while Open, Connecting or
// Reconnecting. On failure the supervisor moves to Reconnecting, schedules
// a retry and returns the dial error as a ConnectionError.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Open, Connecting, Reconnecting:
		s.mu.Unlock()
		return nil
	}
	if s.state == Closed {
		s.backoff.Reset()
	}
	s.state = Connecting
	s.gen++
	gen := s.gen
	s.dialing = gen
	s.mu.Unlock()

	s.metrics.SetConnectionState(Connecting.String())
	s.logger.Debug("Connecting")

	err := s.transport.Open(ctx, &connHandler{s: s, gen: gen})
	return s.finishDial(gen, "dial", err)
}

// Send encodes env and queues it on the live connection. It never buffers:
// when the state is not Open it returns a NotConnectedError.
func (s *Supervisor) Send(env protocol.Envelope) error {
	state := s.State()
	if state != Open {
		return &rterrors.NotConnectedError{State: state.String(), Type: env.Type}
	}

	frame, err := s.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	if err := s.transport.Send(frame); err != nil {
		if errors.Is(err, rterrors.ErrNotConnected) || errors.Is(err, rterrors.ErrClosed) {
			return &rterrors.NotConnectedError{State: s.State().String(), Type: env.Type}
		}
		s.metrics.RecordDropped(rterrors.Classify(err))
		return fmt.Errorf("send %s: %w", env.Type, err)
	}

	s.metrics.RecordFrame("out", env.Type)
	return nil
}

// Close moves to Closed, cancels any scheduled reconnect, releases the
// transport and notifies the observer. Closing twice is a no-op.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	prev := s.state
	if prev == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.gen++
	s.stopRetryLocked()
	s.stopHeartbeatLocked()
	s.lastErr = nil
	observer := s.observer
	s.mu.Unlock()

	err := s.transport.Close()
	s.metrics.SetConnectionState(Closed.String())
	s.logger.Info("Connection closed", zap.Stringer("previous_state", prev))

	if prev != Idle {
		observer.OnDisconnect(rterrors.ErrClosed)
	}
	return err
}

// ============================================================================
// Dial and retry
// ============================================================================

// finishDial applies the outcome of a dial started for gen.
func (s *Supervisor) finishDial(gen uint64, op string, dialErr error) error {
	s.mu.Lock()
	if s.dialing == gen {
		s.dialing = 0
	}
	if gen != s.gen {
		// Close or a connection loss overtook this attempt. A loss has
		// already scheduled the next retry.
		closed := s.state == Closed
		s.mu.Unlock()
		if dialErr == nil && closed {
			s.transport.Close()
		}
		if closed {
			return &rterrors.ConnectionError{Op: op, Err: rterrors.ErrClosed}
		}
		if dialErr != nil {
			return &rterrors.ConnectionError{Op: op, Err: dialErr}
		}
		return &rterrors.ConnectionError{Op: op, Err: rterrors.ErrConnectionLost}
	}

	if dialErr == nil {
		reconnected := s.backoff.Attempt() > 0
		s.state = Open
		s.lastErr = nil
		s.backoff.Reset()
		s.startHeartbeatLocked(gen)
		observer := s.observer
		s.mu.Unlock()

		s.metrics.RecordConnectAttempt("success")
		s.metrics.SetConnectionState(Open.String())
		if reconnected {
			s.logger.Info("Reconnected")
		} else {
			s.logger.Info("Connected")
		}
		observer.OnConnect()
		return nil
	}

	cerr := &rterrors.ConnectionError{Op: op, Attempt: s.backoff.Attempt() + 1, Err: dialErr}
	s.lastErr = cerr
	terminal := s.scheduleRetryLocked(cerr)
	state := s.state
	observer := s.observer
	s.mu.Unlock()

	s.metrics.RecordConnectAttempt("failure")
	s.metrics.RecordError(rterrors.Classify(cerr))
	s.metrics.SetConnectionState(state.String())
	s.logger.Warn("Connection attempt failed", zap.Error(dialErr), zap.Int("attempt", cerr.Attempt))

	if terminal != nil {
		s.logger.Error("Giving up reconnecting", zap.Error(terminal))
		observer.OnError(terminal)
	}
	return cerr
}

// scheduleRetryLocked moves to Reconnecting and arms the retry timer, or to
// Closed when the budget is spent. It returns the terminal error in the
// latter case.
func (s *Supervisor) scheduleRetryLocked(cause error) error {
	s.stopRetryLocked()

	delay, ok := s.backoff.Next()
	if !ok {
		s.state = Closed
		s.gen++
		terminal := &rterrors.ConnectionError{
			Op:      "reconnect",
			Attempt: s.backoff.Attempt(),
			Err:     fmt.Errorf("%w: %w", rterrors.ErrRetriesExhausted, cause),
		}
		s.lastErr = terminal
		return terminal
	}

	s.state = Reconnecting
	gen := s.gen
	s.retry = time.AfterFunc(delay, func() { s.redial(gen) })
	s.logger.Debug("Reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", s.backoff.Attempt()))
	return nil
}

// redial runs a scheduled retry unless it was superseded.
func (s *Supervisor) redial(scheduled uint64) {
	s.mu.Lock()
	if scheduled != s.gen || s.state != Reconnecting {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	s.gen++
	gen := s.gen
	s.dialing = gen
	s.mu.Unlock()

	s.metrics.IncReconnects()

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()

	err := s.transport.Open(ctx, &connHandler{s: s, gen: gen})
	_ = s.finishDial(gen, "reconnect", err)
}

func (s *Supervisor) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// ============================================================================
// Transport events
// ============================================================================

// onFrame forwards frames of the current connection once it is Open.
// Frames read before the dial completes are dropped so that observers
// always see OnConnect first.
func (s *Supervisor) onFrame(gen uint64, frame []byte) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.state != Open {
		s.mu.Unlock()
		s.metrics.RecordDropped("not_open")
		s.logger.Debug("Frame dropped before open", zap.Int("bytes", len(frame)))
		return
	}
	observer := s.observer
	s.mu.Unlock()

	observer.OnFrame(frame)
}

// onClose handles the loss of the connection opened for gen, including a
// close that arrives while its dial is still in flight.
func (s *Supervisor) onClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state == Closed || (s.state != Open && s.dialing != gen) {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == Open
	s.stopHeartbeatLocked()
	s.gen++
	cerr := &rterrors.ConnectionError{Op: "read", Err: err}
	s.lastErr = cerr
	terminal := s.scheduleRetryLocked(cerr)
	state := s.state
	observer := s.observer
	s.mu.Unlock()

	s.metrics.SetConnectionState(state.String())
	s.metrics.RecordError(rterrors.Classify(cerr))
	s.logger.Warn("Connection lost", zap.Error(err), zap.Bool("was_open", wasOpen))

	if wasOpen {
		observer.OnDisconnect(cerr)
	}
	if terminal != nil {
		s.logger.Error("Giving up reconnecting", zap.Error(terminal))
		observer.OnError(terminal)
	}
}

// connHandler binds transport events to the attempt that opened them.
type connHandler struct {
	s   *Supervisor
	gen uint64
}

func (h *connHandler) OnFrame(frame []byte) { h.s.onFrame(h.gen, frame) }
func (h *connHandler) OnClose(err error)    { h.s.onClose(h.gen, err) }

// ============================================================================
// Heartbeat
// ============================================================================

func (s *Supervisor) startHeartbeatLocked(gen uint64) {
	s.stopHeartbeatLocked()
	if s.heartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	s.heartbeat = stop
	go s.heartbeatLoop(gen, stop)
}

func (s *Supervisor) stopHeartbeatLocked() {
	if s.heartbeat != nil {
		close(s.heartbeat)
		s.heartbeat = nil
	}
}

// heartbeatLoop sends keepalives for one connection. Failures are logged
// and never touch the backoff.
func (s *Supervisor) heartbeatLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			current := gen == s.gen
			s.mu.Unlock()
			if !current {
				return
			}
			if err := s.Send(protocol.Heartbeat()); err != nil {
				s.logger.Debug("Heartbeat not sent", zap.Error(err))
			}
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnConnect()         {}
func (nopObserver) OnFrame([]byte)     {}
func (nopObserver) OnDisconnect(error) {}
func (nopObserver) OnError(error)      {}
