// Package testutil provides fakes and helpers shared by the realtime tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/transport"
)

// ErrAlreadyOpen mirrors transport.ErrAlreadyOpen for the fake.
var ErrAlreadyOpen = transport.ErrAlreadyOpen

// FakeTransport is an in-memory transport.Transport. Tests drive inbound
// traffic with Deliver and connection loss with Drop.
type FakeTransport struct {
	codec protocol.Codec

	mu       sync.Mutex
	handler  transport.Handler
	open     bool
	openErrs []error
	sendErr  error
	sent     [][]byte
	onOpen   []func(transport.Handler)
	opens    int
	closes   int
}

// NewFakeTransport creates a closed fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{codec: protocol.NewCodec()}
}

// FailNextOpens makes the next len(errs) Open calls fail with errs in order.
func (f *FakeTransport) FailNextOpens(errs ...error) {
	f.mu.Lock()
	f.openErrs = append(f.openErrs, errs...)
	f.mu.Unlock()
}

// CloseDuringNextOpen makes the next successful Open report the connection
// as closed with err before it returns, the way a peer that hangs up right
// after the handshake does.
func (f *FakeTransport) CloseDuringNextOpen(err error) {
	f.mu.Lock()
	f.onOpen = append(f.onOpen, func(h transport.Handler) {
		f.mu.Lock()
		if f.handler == h {
			f.open = false
			f.handler = nil
		}
		f.mu.Unlock()
		h.OnClose(err)
	})
	f.mu.Unlock()
}

// DeliverDuringNextOpen makes the next successful Open hand frame to the
// handler before it returns.
func (f *FakeTransport) DeliverDuringNextOpen(frame []byte) {
	frame = append([]byte(nil), frame...)
	f.mu.Lock()
	f.onOpen = append(f.onOpen, func(h transport.Handler) { h.OnFrame(frame) })
	f.mu.Unlock()
}

// SetSendError makes every Send fail with err until reset with nil.
func (f *FakeTransport) SetSendError(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Open implements transport.Transport.
func (f *FakeTransport) Open(ctx context.Context, h transport.Handler) error {
	f.mu.Lock()
	f.opens++
	if err := ctx.Err(); err != nil {
		f.mu.Unlock()
		return err
	}
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		f.mu.Unlock()
		return err
	}
	if f.open {
		f.mu.Unlock()
		return ErrAlreadyOpen
	}
	f.handler = h
	f.open = true
	hook := f.onOpen
	f.onOpen = nil
	f.mu.Unlock()

	// Hooks run outside the lock, like a read loop started by Open
	for _, fn := range hook {
		fn(h)
	}
	return nil
}

// Send implements transport.Transport.
func (f *FakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return rterrors.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

// Close implements transport.Transport.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.open = false
	f.handler = nil
	f.mu.Unlock()
	return nil
}

// Deliver hands one inbound frame to the live handler. It reports false
// when no connection is open.
func (f *FakeTransport) Deliver(frame []byte) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return false
	}
	h.OnFrame(frame)
	return true
}

// DeliverEnvelope encodes env and delivers it.
func (f *FakeTransport) DeliverEnvelope(env protocol.Envelope) bool {
	frame, err := f.codec.Encode(env)
	if err != nil {
		return false
	}
	return f.Deliver(frame)
}

// Drop simulates the peer closing the connection with cause err.
func (f *FakeTransport) Drop(err error) {
	f.mu.Lock()
	h := f.handler
	f.open = false
	f.handler = nil
	f.mu.Unlock()

	if h != nil {
		if err == nil {
			err = errors.New("connection reset by peer")
		}
		h.OnClose(err)
	}
}

// IsOpen reports whether a connection is live.
func (f *FakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Opens returns the number of Open calls, failed ones included.
func (f *FakeTransport) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes returns the number of Close calls.
func (f *FakeTransport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Sent decodes every frame sent so far.
func (f *FakeTransport) Sent() []protocol.Envelope {
	f.mu.Lock()
	frames := make([][]byte, len(f.sent))
	copy(frames, f.sent)
	f.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(frames))
	for _, frame := range frames {
		env, err := f.codec.Decode(frame)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// SentOfType returns the sent envelopes with the given type.
func (f *FakeTransport) SentOfType(typ string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range f.Sent() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// ResetSent forgets the recorded outbound frames.
func (f *FakeTransport) ResetSent() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

var _ transport.Transport = (*FakeTransport)(nil)

// ============================================================================
// Mocks
// ============================================================================

// MockTokenSource is a testify mock of transport.TokenSource.
type MockTokenSource struct {
	mock.Mock
}

// Token mocks the Token method.
func (m *MockTokenSource) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// NewMockTokenSource returns a token source that always yields token.
func NewMockTokenSource(t *testing.T, token string) *MockTokenSource {
	t.Helper()
	m := new(MockTokenSource)
	m.On("Token", mock.Anything).Return(token, nil).Maybe()
	return m
}

// ============================================================================
// Helpers
// ============================================================================

// Eventually waits for cond with the timings used across the suite.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
