package streams

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/id"
)

// Default timings.
const (
	DefaultAckTimeout     = 15 * time.Second
	DefaultRetainTerminal = time.Minute
)

// Sender delivers envelopes over the shared connection.
type Sender interface {
	Send(env protocol.Envelope) error
}

// FailureHandler receives stream-scoped failures for delivery to the owner.
// err is a *errors.StreamError.
type FailureHandler func(h Handle, err error)

// Handle is a point-in-time copy of a stream record.
type Handle struct {
	// ID is the authoritative id; it changes once if the server re-keys
	ID string `json:"id"`
	// ClientID is the id generated when the stream was requested
	ClientID  string          `json:"client_id"`
	Kind      string          `json:"kind"`
	Owner     string          `json:"owner"`
	Status    Status          `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
}

// Resolution is the outcome of reconciling one inbound envelope.
type Resolution struct {
	// Handle is the stream after the update
	Handle Handle
	// Deliver is true when the envelope should reach the owner's OnMessage
	Deliver bool
	// Err is set when the envelope failed the stream; it goes to the
	// owner's OnError instead of OnMessage
	Err error
}

// Options configures a Registry.
type Options struct {
	// AckTimeout fails a Requested stream without stream_started; 0 uses
	// DefaultAckTimeout, negative disables
	AckTimeout time.Duration
	// RetainTerminal keeps terminal handles queryable; 0 uses
	// DefaultRetainTerminal
	RetainTerminal time.Duration

	IDs     *id.Generator
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type record struct {
	handle Handle
	ack    *time.Timer
	evict  *time.Timer
}

// Registry tracks the logical streams multiplexed over the connection.
//
// It is the only component that changes stream status. Both the client id
// and a server-assigned id resolve to the same record. All methods are safe
// for concurrent use; the failure handler is never called with the lock held.
type Registry struct {
	sender  Sender
	ids     *id.Generator
	logger  *zap.Logger
	metrics *monitoring.Metrics

	ackTimeout     time.Duration
	retainTerminal time.Duration

	mu       sync.RWMutex
	records  map[string]*record
	live     int
	onFailed FailureHandler
}

// NewRegistry creates an empty registry that sends through sender.
func NewRegistry(sender Sender, opts Options) *Registry {
	if opts.AckTimeout == 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.RetainTerminal <= 0 {
		opts.RetainTerminal = DefaultRetainTerminal
	}
	if opts.IDs == nil {
		opts.IDs = id.Default()
	}
	opts.Logger = logging.OrNop(opts.Logger)

	return &Registry{
		sender:         sender,
		ids:            opts.IDs,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		ackTimeout:     opts.AckTimeout,
		retainTerminal: opts.RetainTerminal,
		records:        make(map[string]*record),
		onFailed:       func(Handle, error) {},
	}
}

// SetFailureHandler installs the receiver of stream-scoped failures.
func (r *Registry) SetFailureHandler(fn FailureHandler) {
	if fn == nil {
		fn = func(Handle, error) {}
	}
	r.mu.Lock()
	r.onFailed = fn
	r.mu.Unlock()
}

// ============================================================================
// Operations
// ============================================================================

// Start records a Requested stream for owner and sends start_stream. The id
// is returned even when sending fails; the handle is then already Failed,
// the error is returned and reported to the failure handler.
func (r *Registry) Start(owner, kind string, params json.RawMessage) (string, error) {
	streamID := r.ids.NewStreamID().String()
	now := time.Now()

	rec := &record{handle: Handle{
		ID:        streamID,
		ClientID:  streamID,
		Kind:      kind,
		Owner:     owner,
		Status:    Requested,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	r.mu.Lock()
	r.records[streamID] = rec
	r.live++
	if r.ackTimeout > 0 {
		rec.ack = time.AfterFunc(r.ackTimeout, func() { r.expire(rec) })
	}
	live := r.live
	r.mu.Unlock()

	r.metrics.RecordStreamTransition(kind, Requested.String())
	r.metrics.SetStreamsLive(live)

	if err := r.sender.Send(protocol.StartStream(streamID, kind, params)); err != nil {
		r.logger.Warn("Stream start not sent",
			zap.String("stream_id", streamID),
			zap.String("kind", kind),
			zap.Error(err))
		r.fail(rec, err)
		return streamID, err
	}

	r.logger.Debug("Stream requested",
		zap.String("stream_id", streamID),
		zap.String("kind", kind),
		zap.String("owner", owner))
	return streamID, nil
}

// Stop cancels a Requested or Active stream: it marks it Stopped and sends
// stop_stream. Unknown and terminal ids are a no-op. It reports whether a
// stop was issued.
func (r *Registry) Stop(streamID string) bool {
	r.mu.Lock()
	rec, ok := r.records[streamID]
	if !ok || rec.handle.Status.IsTerminal() {
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("Stop ignored",
				zap.Error(&rterrors.UnknownStreamError{StreamID: streamID, Type: protocol.TypeStopStream}))
		}
		return false
	}
	r.transitionLocked(rec, Stopped, nil)
	target := rec.handle.ID
	r.mu.Unlock()

	if err := r.sender.Send(protocol.StopStream(target)); err != nil {
		// Best effort: the stream is stopped locally either way
		r.logger.Debug("Stream stop not sent", zap.String("stream_id", target), zap.Error(err))
	}
	return true
}

// Reconcile applies an inbound envelope addressed to a stream. ok is false
// when the stream id is unknown.
func (r *Registry) Reconcile(env protocol.Envelope) (res Resolution, ok bool) {
	r.mu.Lock()
	rec := r.lookupLocked(env)
	if rec == nil {
		r.mu.Unlock()
		return Resolution{}, false
	}

	status := rec.handle.Status
	var (
		ackLatency time.Duration
		orphaned   bool
	)

	switch env.Type {
	case protocol.TypeStreamStarted:
		switch {
		case status == Requested:
			r.rekeyLocked(rec, env.StreamID)
			r.transitionLocked(rec, Active, nil)
			ackLatency = time.Since(rec.handle.CreatedAt)
			res.Deliver = true
		case status == Active:
			res.Deliver = true
		default:
			// Late acknowledgement of a stream given up on locally
			r.rekeyLocked(rec, env.StreamID)
			orphaned = true
		}

	case protocol.TypeStreamStopped:
		if !status.IsTerminal() {
			r.transitionLocked(rec, Stopped, nil)
			res.Deliver = true
		}

	case protocol.TypeError:
		if !status.IsTerminal() {
			cause := &rterrors.ServerReportedError{
				StreamID: rec.handle.ID,
				Code:     env.Code,
				Message:  env.Message,
			}
			r.transitionLocked(rec, Failed, cause)
			res.Err = &rterrors.StreamError{StreamID: rec.handle.ID, Kind: rec.handle.Kind, Err: cause}
		}

	default:
		res.Deliver = !status.IsTerminal()
	}

	res.Handle = rec.handle
	r.mu.Unlock()

	if ackLatency > 0 {
		r.metrics.ObserveAck(ackLatency)
	}
	if orphaned {
		r.logger.Debug("Stopping orphaned stream", zap.String("stream_id", res.Handle.ID))
		_ = r.sender.Send(protocol.StopStream(res.Handle.ID))
	}
	return res, true
}

// FailAll fails every Requested or Active stream with cause and reports
// each to the failure handler. It returns the affected handles.
func (r *Registry) FailAll(cause error) []Handle {
	r.mu.Lock()
	var failed []Handle
	for key, rec := range r.records {
		if key != rec.handle.ID || rec.handle.Status.IsTerminal() {
			continue
		}
		r.transitionLocked(rec, Failed, cause)
		failed = append(failed, rec.handle)
	}
	notify := r.onFailed
	r.mu.Unlock()

	sortHandles(failed)
	for _, h := range failed {
		notify(h, &rterrors.StreamError{StreamID: h.ID, Kind: h.Kind, Err: cause})
	}
	if len(failed) > 0 {
		r.logger.Info("Failed live streams", zap.Int("count", len(failed)), zap.Error(cause))
	}
	return failed
}

// Get returns the handle for a client or server id.
func (r *Registry) Get(streamID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[streamID]
	if !ok {
		return Handle{}, false
	}
	return rec.handle, true
}

// OwnerOf returns the owner of a stream id.
func (r *Registry) OwnerOf(streamID string) (string, bool) {
	h, ok := r.Get(streamID)
	return h.Owner, ok
}

// Snapshot returns every retained handle ordered by creation time.
func (r *Registry) Snapshot() []Handle {
	return r.collect(func(Handle) bool { return true })
}

// Live returns the non-terminal handles of owner ordered by creation time.
func (r *Registry) Live(owner string) []Handle {
	return r.collect(func(h Handle) bool {
		return h.Owner == owner && !h.Status.IsTerminal()
	})
}

// LiveCount returns the number of non-terminal streams.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Close stops every pending timer. Handles stay readable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		stopTimer(&rec.ack)
		stopTimer(&rec.evict)
	}
}

// ============================================================================
// Internals
// ============================================================================

func (r *Registry) lookupLocked(env protocol.Envelope) *record {
	if rec, ok := r.records[env.StreamID]; ok {
		return rec
	}
	if env.ClientStreamID != "" {
		if rec, ok := r.records[env.ClientStreamID]; ok {
			return rec
		}
	}
	return nil
}

// rekeyLocked adopts a server-assigned id. The client id keeps resolving.
func (r *Registry) rekeyLocked(rec *record, serverID string) {
	if serverID == "" || serverID == rec.handle.ID {
		return
	}
	if _, taken := r.records[serverID]; taken {
		r.logger.Warn("Server stream id already in use", zap.String("stream_id", serverID))
		return
	}
	r.records[serverID] = rec
	r.logger.Debug("Stream re-keyed",
		zap.String("client_stream_id", rec.handle.ClientID),
		zap.String("stream_id", serverID))
	rec.handle.ID = serverID
}

// transitionLocked moves rec to next. Illegal moves are logged and ignored.
func (r *Registry) transitionLocked(rec *record, next Status, cause error) bool {
	cur := rec.handle.Status
	if !cur.CanTransition(next) {
		r.logger.Warn("Illegal stream transition",
			zap.String("stream_id", rec.handle.ID),
			zap.Stringer("from", cur),
			zap.Stringer("to", next))
		return false
	}

	rec.handle.Status = next
	rec.handle.UpdatedAt = time.Now()
	if cause != nil {
		rec.handle.Err = cause
		rec.handle.Error = cause.Error()
	}
	if cur == Requested {
		stopTimer(&rec.ack)
	}
	if next.IsTerminal() {
		r.live--
		rec.evict = time.AfterFunc(r.retainTerminal, func() { r.evict(rec) })
	}

	r.metrics.RecordStreamTransition(rec.handle.Kind, next.String())
	r.metrics.SetStreamsLive(r.live)
	return true
}

// fail moves rec to Failed and reports it.
func (r *Registry) fail(rec *record, cause error) {
	r.mu.Lock()
	if !r.transitionLocked(rec, Failed, cause) {
		r.mu.Unlock()
		return
	}
	h := rec.handle
	notify := r.onFailed
	r.mu.Unlock()

	r.metrics.RecordError(rterrors.Classify(cause))
	notify(h, &rterrors.StreamError{StreamID: h.ID, Kind: h.Kind, Err: cause})
}

// expire fails a stream whose acknowledgement never came.
func (r *Registry) expire(rec *record) {
	r.mu.Lock()
	if rec.handle.Status != Requested || !r.transitionLocked(rec, Failed, rterrors.ErrAckTimeout) {
		r.mu.Unlock()
		return
	}
	h := rec.handle
	notify := r.onFailed
	r.mu.Unlock()

	r.logger.Warn("Stream acknowledgement timed out",
		zap.String("stream_id", h.ID),
		zap.Duration("timeout", r.ackTimeout))
	r.metrics.RecordError(rterrors.Classify(rterrors.ErrAckTimeout))
	notify(h, &rterrors.StreamError{StreamID: h.ID, Kind: h.Kind, Err: rterrors.ErrAckTimeout})

	// The server may still start it; ask it not to
	_ = r.sender.Send(protocol.StopStream(h.ID))
}

func (r *Registry) evict(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range []string{rec.handle.ClientID, rec.handle.ID} {
		if r.records[key] == rec {
			delete(r.records, key)
		}
	}
	rec.evict = nil
}

func (r *Registry) collect(keep func(Handle) bool) []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.records))
	for key, rec := range r.records {
		if key != rec.handle.ID || !keep(rec.handle) {
			continue
		}
		out = append(out, rec.handle)
	}
	r.mu.RUnlock()

	sortHandles(out)
	return out
}

func sortHandles(hs []Handle) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].ClientID < hs[j].ClientID
		}
		return hs[i].CreatedAt.Before(hs[j].CreatedAt)
	})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
