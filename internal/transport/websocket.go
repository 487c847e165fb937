package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

// ErrAlreadyOpen is returned by Open while a connection is live.
var ErrAlreadyOpen = errors.New("transport already open")

// Options configures the WebSocket transport.
type Options struct {
	// URL of the realtime endpoint (ws:// or wss://)
	URL string
	// Header is sent with every handshake
	Header http.Header
	// Tokens supplies the bearer token for the handshake; optional
	Tokens TokenSource

	HandshakeTimeout time.Duration
	// PingInterval between WebSocket pings; 0 disables pings
	PingInterval time.Duration
	// PongWait is the read deadline extended by every frame or pong
	PongWait time.Duration
	// WriteWait bounds a single frame write
	WriteWait time.Duration

	// SendQueue is the outbound buffer per connection
	SendQueue int
	// SendRPS paces outbound frames; 0 means unlimited
	SendRPS float64

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// DefaultOptions returns options suitable for a browser-like client.
func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		SendQueue:        256,
	}
}

// WebSocket is a Transport over gorilla/websocket. Outbound frames go
// through a single writer goroutine per connection.
type WebSocket struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu   sync.Mutex
	conn *wsConn
}

// NewWebSocket creates a transport; nothing is dialed until Open.
func NewWebSocket(opts Options) *WebSocket {
	def := DefaultOptions(opts.URL)
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	logger := logging.OrNop(opts.Logger)

	return &WebSocket{
		opts:   opts,
		dialer: dialer,
		logger: logger,
	}
}

// Open dials the endpoint.
func (w *WebSocket) Open(ctx context.Context, h Handler) error {
	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	w.mu.Unlock()

	header := w.opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if w.opts.Tokens != nil {
		token, err := w.opts.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("fetch handshake token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := w.dialer.DialContext(ctx, w.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", w.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", w.opts.URL, err)
	}

	c := &wsConn{
		id:      uuid.NewString(),
		owner:   w,
		ws:      ws,
		handler: h,
		out:     make(chan []byte, w.opts.SendQueue),
		done:    make(chan struct{}),
		logger:  w.logger,
	}
	if w.opts.SendRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(w.opts.SendRPS), max(1, int(w.opts.SendRPS)))
	}

	w.mu.Lock()
	if w.conn != nil {
		// Lost a race with a concurrent Open
		w.mu.Unlock()
		ws.Close()
		return ErrAlreadyOpen
	}
	w.conn = c
	w.mu.Unlock()

	c.logger = w.logger.With(zap.String("conn_id", c.id))
	c.logger.Debug("WebSocket connected", zap.String("url", w.opts.URL))

	ws.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	})

	go c.readLoop(w.opts.PongWait)
	go c.writeLoop(w.opts.PingInterval, w.opts.WriteWait)

	return nil
}

// Send queues a frame on the live connection.
func (w *WebSocket) Send(frame []byte) error {
	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()

	if c == nil {
		return rterrors.ErrNotConnected
	}

	select {
	case <-c.done:
		return rterrors.ErrClosed
	default:
	}

	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return rterrors.ErrClosed
	default:
		return rterrors.ErrQueueFull
	}
}

// Close sends a close frame and tears down the live connection, if any.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	c := w.conn
	w.conn = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}

	c.intentional.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.shutdown(nil)
	return nil
}

// ConnID returns the id of the live connection, or "" when closed.
func (w *WebSocket) ConnID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ""
	}
	return w.conn.id
}

// detach forgets c if it is still the live connection.
func (w *WebSocket) detach(c *wsConn) {
	w.mu.Lock()
	if w.conn == c {
		w.conn = nil
	}
	w.mu.Unlock()
}

// ============================================================================
// Per-connection loops
// ============================================================================

type wsConn struct {
	id      string
	owner   *WebSocket
	ws      *websocket.Conn
	handler Handler
	out     chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger

	intentional atomic.Bool
	closeOnce   sync.Once
	errMu       sync.Mutex
	err         error
}

// shutdown closes the socket once and records the first cause.
func (c *wsConn) shutdown(cause error) {
	c.errMu.Lock()
	if c.err == nil && cause != nil {
		c.err = cause
	}
	c.errMu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.owner.detach(c)
	})
}

func (c *wsConn) cause() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// readLoop is the only goroutine that calls the handler.
func (c *wsConn) readLoop(pongWait time.Duration) {
	defer func() {
		if c.intentional.Load() {
			return
		}
		err := c.cause()
		if err == nil {
			err = rterrors.ErrConnectionLost
		}
		c.handler.OnClose(err)
	}()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.intentional.Load() {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
				} else {
					c.logger.Debug("WebSocket read ended", zap.Error(err))
				}
			}
			c.shutdown(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.handler.OnFrame(data)
	}
}

// writeLoop serializes all writes, data frames and pings alike.
func (c *wsConn) writeLoop(pingInterval, writeWait time.Duration) {
	var pings <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.out:
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return
				}
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("WebSocket write failed", zap.Error(err))
				c.shutdown(err)
				return
			}

		case <-pings:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("WebSocket ping failed", zap.Error(err))
				c.shutdown(err)
				return
			}
		}
	}
}

var _ Transport = (*WebSocket)(nil)
