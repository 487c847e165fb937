package streams

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
}

func (f *fakeSender) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) ofType(typ string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type failure struct {
	handle Handle
	err    error
}

type failureLog struct {
	mu    sync.Mutex
	items []failure
}

func (l *failureLog) record(h Handle, err error) {
	l.mu.Lock()
	l.items = append(l.items, failure{h, err})
	l.mu.Unlock()
}

func (l *failureLog) all() []failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]failure(nil), l.items...)
}

func newRegistry(t *testing.T, opts Options) (*Registry, *fakeSender, *failureLog) {
	t.Helper()
	sender := &fakeSender{}
	reg := NewRegistry(sender, opts)
	log := &failureLog{}
	reg.SetFailureHandler(log.record)
	t.Cleanup(reg.Close)
	return reg, sender, log
}

func started(id string) protocol.Envelope {
	return protocol.Envelope{Type: protocol.TypeStreamStarted, StreamID: id}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{Requested, Active, true},
		{Requested, Stopped, true},
		{Requested, Failed, true},
		{Active, Stopped, true},
		{Active, Failed, true},
		{Active, Requested, false},
		{Stopped, Active, false},
		{Stopped, Failed, false},
		{Failed, Active, false},
		{Failed, Stopped, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to))
		})
	}

	text, err := Active.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "active", string(text))
	assert.True(t, Failed.IsTerminal())
	assert.False(t, Requested.IsTerminal())
}

func TestStartIssuesDistinctIDs(t *testing.T) {
	reg, sender, _ := newRegistry(t, Options{})
	params := json.RawMessage(`{"topic":"AI","platform":"youtube"}`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		streamID, err := reg.Start("sub_a", protocol.KindScriptGeneration, params)
		require.NoError(t, err)
		require.False(t, seen[streamID], "duplicate id %s", streamID)
		seen[streamID] = true

		h, ok := reg.Get(streamID)
		require.True(t, ok)
		assert.Equal(t, Requested, h.Status)
		assert.Equal(t, "sub_a", h.Owner)
	}

	sent := sender.ofType(protocol.TypeStartStream)
	require.Len(t, sent, 50)
	for _, env := range sent {
		assert.True(t, seen[env.StreamID])
		assert.Equal(t, protocol.KindScriptGeneration, env.Kind)
		assert.JSONEq(t, string(params), string(env.Params))
	}
	assert.Equal(t, 50, reg.LiveCount())
}

func TestStartWhileDisconnected(t *testing.T) {
	reg, sender, failures := newRegistry(t, Options{})
	sender.setErr(&rterrors.NotConnectedError{State: "reconnecting", Type: protocol.TypeStartStream})

	streamID, err := reg.Start("sub_a", protocol.KindScriptGeneration, json.RawMessage(`{"topic":"AI","platform":"youtube"}`))
	assert.NotEmpty(t, streamID)
	require.Error(t, err)
	assert.True(t, rterrors.IsNotConnected(err))

	h, ok := reg.Get(streamID)
	require.True(t, ok)
	assert.Equal(t, Failed, h.Status)
	assert.True(t, rterrors.IsNotConnected(h.Err))
	assert.Zero(t, reg.LiveCount())

	got := failures.all()
	require.Len(t, got, 1)
	assert.Equal(t, streamID, got[0].handle.ID)
	var se *rterrors.StreamError
	require.ErrorAs(t, got[0].err, &se)
	assert.Equal(t, streamID, se.StreamID)
	assert.True(t, rterrors.IsNotConnected(got[0].err))
}

func TestReconcileStartedUpdatesOneHandle(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_a", protocol.KindContentAnalysis, nil)

	res, ok := reg.Reconcile(started(a))
	require.True(t, ok)
	assert.True(t, res.Deliver)
	assert.Equal(t, Active, res.Handle.Status)

	hb, _ := reg.Get(b)
	assert.Equal(t, Requested, hb.Status)

	// A duplicate acknowledgement changes nothing
	res, ok = reg.Reconcile(started(a))
	require.True(t, ok)
	assert.Equal(t, Active, res.Handle.Status)
	hb, _ = reg.Get(b)
	assert.Equal(t, Requested, hb.Status)
}

func TestOutOfOrderAcknowledgements(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_b", protocol.KindContentAnalysis, nil)

	_, ok := reg.Reconcile(started(b))
	require.True(t, ok)

	ha, _ := reg.Get(a)
	hb, _ := reg.Get(b)
	assert.Equal(t, Requested, ha.Status)
	assert.Equal(t, Active, hb.Status)

	_, ok = reg.Reconcile(started(a))
	require.True(t, ok)
	ha, _ = reg.Get(a)
	assert.Equal(t, Active, ha.Status)
}

func TestStopIsIdempotent(t *testing.T) {
	reg, sender, failures := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_a", protocol.KindContentAnalysis, nil)
	reg.Reconcile(started(b))

	assert.False(t, reg.Stop("stream_never_started"))
	assert.True(t, reg.Stop(a))
	assert.False(t, reg.Stop(a))

	ha, _ := reg.Get(a)
	hb, _ := reg.Get(b)
	assert.Equal(t, Stopped, ha.Status)
	assert.Equal(t, Active, hb.Status)

	stops := sender.ofType(protocol.TypeStopStream)
	require.Len(t, stops, 1)
	assert.Equal(t, a, stops[0].StreamID)
	assert.Empty(t, failures.all())
}

func TestStopWhenSendFailsStillStops(t *testing.T) {
	reg, sender, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	reg.Reconcile(started(a))

	sender.setErr(rterrors.ErrNotConnected)
	assert.True(t, reg.Stop(a))

	h, _ := reg.Get(a)
	assert.Equal(t, Stopped, h.Status)
	assert.Zero(t, reg.LiveCount())
}

func TestServerErrorFailsStream(t *testing.T) {
	reg, _, failures := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindScriptGeneration, nil)
	reg.Reconcile(started(a))

	res, ok := reg.Reconcile(protocol.Envelope{
		Type:     protocol.TypeError,
		StreamID: a,
		Code:     "quota_exceeded",
		Message:  "generation quota exceeded",
	})
	require.True(t, ok)
	assert.False(t, res.Deliver)
	assert.Equal(t, Failed, res.Handle.Status)

	var srv *rterrors.ServerReportedError
	require.ErrorAs(t, res.Err, &srv)
	assert.Equal(t, "quota_exceeded", srv.Code)
	assert.Equal(t, a, srv.StreamID)

	// Reconcile results are dispatched by the caller
	assert.Empty(t, failures.all())
}

func TestNoDeliveryToTerminalStreams(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindScriptGeneration, nil)
	reg.Reconcile(started(a))

	res, _ := reg.Reconcile(protocol.Envelope{Type: protocol.TypeProgress, StreamID: a})
	assert.True(t, res.Deliver)

	reg.Stop(a)

	for _, typ := range []string{protocol.TypeProgress, protocol.TypeResult, protocol.TypeStreamStopped, protocol.TypeError} {
		res, ok := reg.Reconcile(protocol.Envelope{Type: typ, StreamID: a})
		require.True(t, ok)
		assert.False(t, res.Deliver, typ)
		assert.NoError(t, res.Err, typ)
		assert.Equal(t, Stopped, res.Handle.Status, typ)
	}
}

func TestStreamStoppedByServer(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindScriptGeneration, nil)
	reg.Reconcile(started(a))

	res, ok := reg.Reconcile(protocol.Envelope{Type: protocol.TypeStreamStopped, StreamID: a})
	require.True(t, ok)
	assert.True(t, res.Deliver, "the message that ends the stream is delivered")
	assert.Equal(t, Stopped, res.Handle.Status)
}

func TestReconcileUnknownStream(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})

	_, ok := reg.Reconcile(started("stream_unknown"))
	assert.False(t, ok)
	_, ok = reg.Reconcile(protocol.Envelope{Type: protocol.TypeProgress, StreamID: "stream_unknown"})
	assert.False(t, ok)
}

func TestServerRekeysStream(t *testing.T) {
	reg, sender, _ := newRegistry(t, Options{})
	clientID, _ := reg.Start("sub_a", protocol.KindScriptGeneration, nil)

	res, ok := reg.Reconcile(protocol.Envelope{
		Type:           protocol.TypeStreamStarted,
		StreamID:       "srv-42",
		ClientStreamID: clientID,
	})
	require.True(t, ok)
	assert.Equal(t, "srv-42", res.Handle.ID)
	assert.Equal(t, clientID, res.Handle.ClientID)

	byServer, ok := reg.Get("srv-42")
	require.True(t, ok)
	byClient, ok := reg.Get(clientID)
	require.True(t, ok)
	assert.Equal(t, byServer, byClient)
	assert.Len(t, reg.Snapshot(), 1)

	res, ok = reg.Reconcile(protocol.Envelope{Type: protocol.TypeProgress, StreamID: "srv-42"})
	require.True(t, ok)
	assert.True(t, res.Deliver)

	require.True(t, reg.Stop(clientID))
	stops := sender.ofType(protocol.TypeStopStream)
	require.Len(t, stops, 1)
	assert.Equal(t, "srv-42", stops[0].StreamID)
}

func TestAckTimeoutFailsStream(t *testing.T) {
	metrics := monitoring.NewMetrics()
	reg, sender, failures := newRegistry(t, Options{AckTimeout: 20 * time.Millisecond, Metrics: metrics})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)

	require.Eventually(t, func() bool {
		h, _ := reg.Get(a)
		return h.Status == Failed
	}, time.Second, 5*time.Millisecond)

	h, _ := reg.Get(a)
	assert.ErrorIs(t, h.Err, rterrors.ErrAckTimeout)

	require.Eventually(t, func() bool { return len(failures.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, failures.all()[0].err, rterrors.ErrAckTimeout)

	require.Eventually(t, func() bool { return len(sender.ofType(protocol.TypeStopStream)) == 1 }, time.Second, 5*time.Millisecond)

	// A late acknowledgement is not delivered and the orphan is stopped again
	res, ok := reg.Reconcile(started(a))
	require.True(t, ok)
	assert.False(t, res.Deliver)
	assert.Equal(t, Failed, res.Handle.Status)
	assert.Len(t, sender.ofType(protocol.TypeStopStream), 2)
}

func TestAckCancelsTimeout(t *testing.T) {
	reg, _, failures := newRegistry(t, Options{AckTimeout: 20 * time.Millisecond})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	reg.Reconcile(started(a))

	time.Sleep(60 * time.Millisecond)
	h, _ := reg.Get(a)
	assert.Equal(t, Active, h.Status)
	assert.Empty(t, failures.all())
}

func TestFailAll(t *testing.T) {
	reg, _, failures := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_b", protocol.KindContentAnalysis, nil)
	c, _ := reg.Start("sub_b", protocol.KindScriptGeneration, nil)
	reg.Reconcile(started(a))
	reg.Stop(c)

	failed := reg.FailAll(rterrors.ErrConnectionLost)
	require.Len(t, failed, 2)
	assert.Equal(t, a, failed[0].ID)
	assert.Equal(t, b, failed[1].ID)

	for _, streamID := range []string{a, b} {
		h, _ := reg.Get(streamID)
		assert.Equal(t, Failed, h.Status)
		assert.ErrorIs(t, h.Err, rterrors.ErrConnectionLost)
	}
	hc, _ := reg.Get(c)
	assert.Equal(t, Stopped, hc.Status)

	got := failures.all()
	require.Len(t, got, 2)
	assert.Equal(t, "sub_a", got[0].handle.Owner)
	assert.Equal(t, "sub_b", got[1].handle.Owner)
	assert.Zero(t, reg.LiveCount())

	assert.Empty(t, reg.FailAll(rterrors.ErrConnectionLost))
}

func TestTerminalHandlesEvicted(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{RetainTerminal: 20 * time.Millisecond})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	reg.Stop(a)

	require.Eventually(t, func() bool {
		_, ok := reg.Get(a)
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, ok := reg.Get(b)
	assert.True(t, ok, "live handles are never evicted")
}

func TestLiveAndSnapshot(t *testing.T) {
	reg, _, _ := newRegistry(t, Options{})
	a, _ := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	b, _ := reg.Start("sub_b", protocol.KindContentAnalysis, nil)
	c, _ := reg.Start("sub_a", protocol.KindScriptGeneration, nil)
	reg.Stop(c)

	live := reg.Live("sub_a")
	require.Len(t, live, 1)
	assert.Equal(t, a, live[0].ID)

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{a, b, c}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	owner, ok := reg.OwnerOf(b)
	require.True(t, ok)
	assert.Equal(t, "sub_b", owner)
}

func TestFailureHandlerNotCalledUnderLock(t *testing.T) {
	reg, sender, _ := newRegistry(t, Options{})
	sender.setErr(errors.New("boom"))

	done := make(chan struct{})
	reg.SetFailureHandler(func(h Handle, err error) {
		// Re-entering the registry must not deadlock
		reg.Snapshot()
		reg.Stop(h.ID)
		close(done)
	})

	_, err := reg.Start("sub_a", protocol.KindTrendMonitoring, nil)
	require.Error(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("failure handler did not run")
	}
}
