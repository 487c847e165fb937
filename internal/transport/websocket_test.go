package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
	closed chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan error, 1)}
}

func (h *recordingHandler) OnFrame(frame []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, string(frame))
	h.mu.Unlock()
}

func (h *recordingHandler) OnClose(err error) {
	h.closed <- err
}

func (h *recordingHandler) Frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

// echoServer echoes every text frame and records the Authorization header.
type echoServer struct {
	*httptest.Server
	auth  chan string
	conns chan *websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	es := &echoServer{
		auth:  make(chan string, 4),
		conns: make(chan *websocket.Conn, 4),
	}
	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.conns <- conn
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(es.Close)
	return es
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{URL: wsURL(srv.Server), Tokens: StaticToken("secret")})
	h := newRecordingHandler()

	require.NoError(t, tr.Open(context.Background(), h))
	defer tr.Close()

	assert.Equal(t, "Bearer secret", <-srv.auth)
	assert.NotEmpty(t, tr.ConnID())

	require.NoError(t, tr.Send([]byte(`{"type":"heartbeat"}`)))
	require.NoError(t, tr.Send([]byte(`{"type":"start_stream","streamId":"a"}`)))

	require.Eventually(t, func() bool { return len(h.Frames()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"type":"heartbeat"}`, `{"type":"start_stream","streamId":"a"}`}, h.Frames())
}

func TestWebSocketOpenTwice(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{URL: wsURL(srv.Server)})

	require.NoError(t, tr.Open(context.Background(), newRecordingHandler()))
	defer tr.Close()

	assert.ErrorIs(t, tr.Open(context.Background(), newRecordingHandler()), ErrAlreadyOpen)
}

func TestWebSocketSendWhenClosed(t *testing.T) {
	tr := NewWebSocket(Options{URL: "ws://127.0.0.1:1/ws"})

	assert.ErrorIs(t, tr.Send([]byte("x")), rterrors.ErrNotConnected)
	assert.NoError(t, tr.Close())
}

func TestWebSocketLocalCloseSuppressesOnClose(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{URL: wsURL(srv.Server)})
	h := newRecordingHandler()

	require.NoError(t, tr.Open(context.Background(), h))
	require.NoError(t, tr.Close())

	select {
	case err := <-h.closed:
		t.Fatalf("unexpected OnClose after local Close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Empty(t, tr.ConnID())
	assert.ErrorIs(t, tr.Send([]byte("x")), rterrors.ErrNotConnected)

	// Reopen after close is allowed
	require.NoError(t, tr.Open(context.Background(), newRecordingHandler()))
	require.NoError(t, tr.Close())
}

func TestWebSocketRemoteCloseReported(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{URL: wsURL(srv.Server)})
	h := newRecordingHandler()

	require.NoError(t, tr.Open(context.Background(), h))
	serverConn := <-srv.conns
	serverConn.Close()

	select {
	case err := <-h.closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnClose after remote close")
	}

	require.Eventually(t, func() bool { return tr.ConnID() == "" }, time.Second, 10*time.Millisecond)
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr := NewWebSocket(Options{URL: wsURL(srv)})
	err := tr.Open(context.Background(), newRecordingHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestWebSocketTokenFailureAbortsDial(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{
		URL: wsURL(srv.Server),
		Tokens: TokenFunc(func(context.Context) (string, error) {
			return "", assert.AnError
		}),
	})

	err := tr.Open(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWebSocketPacedSends(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocket(Options{URL: wsURL(srv.Server), SendRPS: 1000})
	h := newRecordingHandler()

	require.NoError(t, tr.Open(context.Background(), h))
	defer tr.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, tr.Send([]byte(`{"type":"heartbeat"}`)))
	}
	require.Eventually(t, func() bool { return len(h.Frames()) == 20 }, 2*time.Second, 10*time.Millisecond)
}
