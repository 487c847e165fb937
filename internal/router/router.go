package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/streams"
)

// ErrDuplicateSubscriber is returned when an id is registered twice.
var ErrDuplicateSubscriber = errors.New("subscriber already registered")

// Callbacks is the listener record of one subscriber. Nil fields are
// skipped. Callbacks run on the connection's read goroutine and must not
// block.
type Callbacks struct {
	OnMessage    func(env protocol.Envelope)
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
}

// Streams is the part of the stream registry the router consults.
type Streams interface {
	Reconcile(env protocol.Envelope) (streams.Resolution, bool)
	FailAll(cause error) []streams.Handle
}

// Options configures a Router.
type Options struct {
	Codec protocol.Codec
	// DiagnosticsSize bounds the retained diagnostics; 0 uses 64
	DiagnosticsSize int

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type listener struct {
	id        string
	callbacks Callbacks
}

// Router decodes inbound frames and dispatches them to subscribers.
//
// Envelopes addressed to a stream reach only the stream's owner; the rest
// are broadcast to every subscriber in registration order. Lifecycle
// events are always broadcast. The router never mutates connection or
// stream state itself; it asks the registry to reconcile.
type Router struct {
	streams Streams
	codec   protocol.Codec
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.RWMutex
	order     []*listener
	listeners map[string]*listener

	diagnostics *ring
}

// New creates a router over the given stream registry.
func New(s Streams, opts Options) *Router {
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec()
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.DiagnosticsSize <= 0 {
		opts.DiagnosticsSize = 64
	}

	return &Router{
		streams:     s,
		codec:       opts.Codec,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		listeners:   make(map[string]*listener),
		diagnostics: newRing(opts.DiagnosticsSize),
	}
}

// ============================================================================
// Subscribers
// ============================================================================

// Register adds a subscriber at the end of the broadcast order.
func (r *Router) Register(id string, cb Callbacks) error {
	r.mu.Lock()
	if _, exists := r.listeners[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, id)
	}
	l := &listener{id: id, callbacks: cb}
	r.listeners[id] = l
	r.order = append(r.order, l)
	count := len(r.order)
	r.mu.Unlock()

	r.metrics.SetSubscribers(count)
	r.logger.Debug("Subscriber registered", zap.String("subscriber_id", id))
	return nil
}

// Unregister removes a subscriber. It reports whether it was registered;
// calling it again is a no-op.
func (r *Router) Unregister(id string) bool {
	r.mu.Lock()
	l, ok := r.listeners[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.listeners, id)
	for i, cur := range r.order {
		if cur == l {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	count := len(r.order)
	r.mu.Unlock()

	r.metrics.SetSubscribers(count)
	r.logger.Debug("Subscriber unregistered", zap.String("subscriber_id", id))
	return true
}

// Subscribers returns the registered ids in broadcast order.
func (r *Router) Subscribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	for i, l := range r.order {
		ids[i] = l.id
	}
	return ids
}

// ============================================================================
// Connection events
// ============================================================================

// OnConnect broadcasts a connect event.
func (r *Router) OnConnect() {
	for _, l := range r.snapshot() {
		if l.callbacks.OnConnect != nil {
			r.invoke(l, "OnConnect", l.callbacks.OnConnect)
		}
	}
}

// OnFrame decodes one frame and dispatches it.
func (r *Router) OnFrame(frame []byte) {
	env, err := r.codec.Decode(frame)
	if err != nil {
		r.metrics.IncMalformedFrames()
		r.metrics.RecordError(rterrors.Classify(err))
		r.record(Diagnostic{Kind: KindMalformedFrame, Size: len(frame), Error: err.Error()})
		r.logger.Warn("Dropped malformed frame", zap.Int("size", len(frame)), zap.Error(err))
		return
	}
	r.metrics.RecordFrame("in", env.Type)

	// Acks may carry only the id the client chose
	if env.HasStream() || (env.IsControl() && env.ClientStreamID != "") {
		r.dispatchStream(env)
		return
	}

	switch {
	case env.Type == protocol.TypeError:
		r.OnError(&rterrors.ServerReportedError{Code: env.Code, Message: env.Message})
	case env.IsControl():
		r.drop(env, KindOrphanControl, errOrphanControl)
	default:
		r.broadcast(env)
	}
}

// OnDisconnect fails every live stream, then broadcasts the disconnect.
// Pending start and stop requests do not survive a reconnect.
func (r *Router) OnDisconnect(err error) {
	cause := rterrors.ErrConnectionLost
	if errors.Is(err, rterrors.ErrClosed) {
		cause = rterrors.ErrClosed
	}
	r.streams.FailAll(cause)

	for _, l := range r.snapshot() {
		if l.callbacks.OnDisconnect != nil {
			r.invoke(l, "OnDisconnect", func() { l.callbacks.OnDisconnect(err) })
		}
	}
}

// OnError broadcasts a connection-wide error.
func (r *Router) OnError(err error) {
	r.metrics.RecordError(rterrors.Classify(err))
	for _, l := range r.snapshot() {
		if l.callbacks.OnError != nil {
			r.invoke(l, "OnError", func() { l.callbacks.OnError(err) })
		}
	}
}

// DeliverStreamError reports a stream-scoped failure to the stream's owner
// only. It is the registry's failure handler.
func (r *Router) DeliverStreamError(h streams.Handle, err error) {
	l := r.lookup(h.Owner)
	if l == nil {
		r.logger.Debug("Stream error without subscriber",
			zap.String("stream_id", h.ID),
			zap.String("owner", h.Owner),
			zap.Error(err))
		return
	}
	if l.callbacks.OnError != nil {
		r.invoke(l, "OnError", func() { l.callbacks.OnError(err) })
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func (r *Router) dispatchStream(env protocol.Envelope) {
	res, ok := r.streams.Reconcile(env)
	if !ok {
		id := env.StreamID
		if id == "" {
			id = env.ClientStreamID
		}
		err := &rterrors.UnknownStreamError{StreamID: id, Type: env.Type}
		r.drop(env, KindUnknownStream, err)
		return
	}

	l := r.lookup(res.Handle.Owner)
	if l == nil {
		r.drop(env, KindNoSubscriber, fmt.Errorf("owner %s unregistered", res.Handle.Owner))
		return
	}

	switch {
	case res.Err != nil:
		r.metrics.RecordError(rterrors.Classify(res.Err))
		if l.callbacks.OnError != nil {
			r.invoke(l, "OnError", func() { l.callbacks.OnError(res.Err) })
		}
	case res.Deliver:
		if l.callbacks.OnMessage != nil {
			r.invoke(l, "OnMessage", func() { l.callbacks.OnMessage(env) })
		}
	default:
		r.drop(env, KindTerminalStream, fmt.Errorf("stream is %s", res.Handle.Status))
	}
}

func (r *Router) broadcast(env protocol.Envelope) {
	for _, l := range r.snapshot() {
		if l.callbacks.OnMessage != nil {
			r.invoke(l, "OnMessage", func() { l.callbacks.OnMessage(env) })
		}
	}
}

func (r *Router) drop(env protocol.Envelope, kind string, err error) {
	r.metrics.RecordDropped(kind)
	r.record(Diagnostic{Kind: kind, StreamID: env.StreamID, Type: env.Type, Error: err.Error()})
	r.logger.Debug("Dropped envelope",
		zap.String("reason", kind),
		zap.String("stream_id", env.StreamID),
		zap.String("type", env.Type),
		zap.Error(err))
}

// invoke runs one callback, containing any panic.
func (r *Router) invoke(l *listener, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%s panicked: %v", name, p)
			r.record(Diagnostic{Kind: KindCallbackPanic, Subscriber: l.id, Error: err.Error()})
			r.logger.Error("Subscriber callback panicked",
				zap.String("subscriber_id", l.id),
				zap.String("callback", name),
				zap.Any("panic", p))
		}
	}()
	fn()
}

func (r *Router) snapshot() []*listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*listener, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Router) lookup(id string) *listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listeners[id]
}

// ============================================================================
// Diagnostics
// ============================================================================

// Diagnostic kinds.
const (
	KindMalformedFrame = "malformed_frame"
	KindUnknownStream  = "unknown_stream"
	KindNoSubscriber   = "no_subscriber"
	KindTerminalStream = "terminal_stream"
	KindCallbackPanic  = "callback_panic"
	KindOrphanControl  = "orphan_control"
)

var errOrphanControl = errors.New("lifecycle envelope without a stream id")

// Diagnostic records an inbound envelope or callback that could not be
// handled normally.
type Diagnostic struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	StreamID   string    `json:"stream_id,omitempty"`
	Type       string    `json:"type,omitempty"`
	Subscriber string    `json:"subscriber,omitempty"`
	Size       int       `json:"size,omitempty"`
	Error      string    `json:"error"`
}

// Diagnostics returns the retained diagnostics, oldest first.
func (r *Router) Diagnostics() []Diagnostic {
	return r.diagnostics.list()
}

func (r *Router) record(d Diagnostic) {
	d.Time = time.Now()
	r.diagnostics.add(d)
}

// ring is a fixed-size buffer of recent diagnostics.
type ring struct {
	mu    sync.Mutex
	items []Diagnostic
	next  int
	full  bool
}

func newRing(size int) *ring {
	return &ring{items: make([]Diagnostic, size)}
}

func (b *ring) add(d Diagnostic) {
	b.mu.Lock()
	b.items[b.next] = d
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

func (b *ring) list() []Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]Diagnostic(nil), b.items[:b.next]...)
	}
	out := make([]Diagnostic, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	return append(out, b.items[:b.next]...)
}
