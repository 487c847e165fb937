package devserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/validate"
)

// Error codes sent in {type:"error"} envelopes.
const (
	CodeUnsupportedKind = "unsupported_kind"
	CodeUnknownType     = "unknown_type"
	CodeMalformed       = "malformed"
	CodeUnauthorized    = "unauthorized"
)

// Options configures the development server.
type Options struct {
	// Steps is the number of progress envelopes per stream
	Steps int
	// Interval between progress envelopes
	Interval time.Duration
	// Kinds accepted by start_stream; empty accepts the built-in kinds
	Kinds []string
	// Token, when set, must be presented as "Authorization: Bearer <Token>"
	Token string
	// ServerIDs makes the server assign its own stream ids and echo the
	// client's id as clientStreamId
	ServerIDs bool

	Logger *zap.Logger
}

// DefaultOptions returns the options used by cmd/devserver.
func DefaultOptions() Options {
	return Options{
		Steps:    5,
		Interval: 200 * time.Millisecond,
	}
}

// Server is a development endpoint speaking the stream protocol.
type Server struct {
	opts     Options
	kinds    map[string]bool
	codec    protocol.Codec
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a server.
func New(opts Options) *Server {
	def := DefaultOptions()
	if opts.Steps <= 0 {
		opts.Steps = def.Steps
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = []string{
			protocol.KindScriptGeneration,
			protocol.KindContentAnalysis,
			protocol.KindTrendMonitoring,
			protocol.KindNotifications,
		}
	}
	opts.Logger = logging.OrNop(opts.Logger)

	kinds := make(map[string]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}

	return &Server{
		opts:   opts,
		kinds:  kinds,
		codec:  protocol.NewCodec(),
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		sessions: make(map[string]*session),
	}
}

// Register mounts the WebSocket endpoint on path.
func (s *Server) Register(r gin.IRoutes, path string) {
	r.GET(path, s.HandleConnection)
}

// HandleConnection upgrades the request and serves one client until it
// disconnects.
func (s *Server) HandleConnection(c *gin.Context) {
	if s.opts.Token != "" && c.GetHeader("Authorization") != "Bearer "+s.opts.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": CodeUnauthorized})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		server:  s,
		conn:    conn,
		streams: make(map[string]context.CancelFunc),
	}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	logger := s.logger.With(zap.String("session_id", sess.id))
	logger.Info("Client connected", zap.String("remote", c.Request.RemoteAddr))

	defer func() {
		sess.close()
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		logger.Info("Client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		env, err := s.codec.Decode(data)
		if err != nil {
			sess.sendError("", CodeMalformed, err.Error())
			continue
		}

		switch env.Type {
		case protocol.TypeStartStream:
			sess.handleStart(env)
		case protocol.TypeStopStream:
			sess.handleStop(env)
		case protocol.TypeHeartbeat:
			sess.send(protocol.Heartbeat())
		default:
			sess.sendError("", CodeUnknownType, "unknown message type "+env.Type)
		}
	}
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast sends env to every connected client.
func (s *Server) Broadcast(env protocol.Envelope) {
	for _, sess := range s.snapshot() {
		sess.send(env)
	}
}

// DropAll closes every client connection without a close handshake.
func (s *Server) DropAll() {
	for _, sess := range s.snapshot() {
		sess.close()
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ============================================================================
// Session
// ============================================================================

type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

func (ss *session) handleStart(env protocol.Envelope) {
	if err := validate.StreamID(env.StreamID); err != nil {
		ss.sendError("", CodeMalformed, "start_stream: "+err.Error())
		return
	}
	if err := validate.Params(env.Params); err != nil {
		ss.sendError(env.StreamID, CodeMalformed, err.Error())
		return
	}
	if !ss.server.kinds[env.Kind] {
		ss.sendError(env.StreamID, CodeUnsupportedKind, "unsupported stream kind "+env.Kind)
		return
	}

	streamID := env.StreamID
	ack := protocol.Envelope{Type: protocol.TypeStreamStarted, StreamID: streamID, Kind: env.Kind}
	if ss.server.opts.ServerIDs {
		streamID = "srv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		ack.StreamID = streamID
		ack.ClientStreamID = env.StreamID
	}

	ctx, cancel := context.WithCancel(ss.ctx)
	ss.mu.Lock()
	ss.streams[streamID] = cancel
	ss.mu.Unlock()

	ack.Timestamp = time.Now().UnixMilli()
	ss.send(ack)

	go ss.run(ctx, streamID, env)
}

// run emits progress then a result, then ends the stream.
func (ss *session) run(ctx context.Context, streamID string, req protocol.Envelope) {
	steps := ss.server.opts.Steps
	ticker := time.NewTicker(ss.server.opts.Interval)
	defer ticker.Stop()

	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload, _ := protocol.RawValue(map[string]any{"step": step, "total": steps})
		ss.sendLive(streamID, protocol.Envelope{
			Type:      protocol.TypeProgress,
			StreamID:  streamID,
			Payload:   payload,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if !ss.finish(streamID) {
		return
	}

	result, _ := protocol.RawValue(map[string]any{
		"kind":   req.Kind,
		"params": req.Params,
	})
	ss.send(protocol.Envelope{Type: protocol.TypeResult, StreamID: streamID, Payload: result, Timestamp: time.Now().UnixMilli()})
	ss.send(protocol.Envelope{Type: protocol.TypeStreamStopped, StreamID: streamID, Timestamp: time.Now().UnixMilli()})
}

func (ss *session) handleStop(env protocol.Envelope) {
	if !ss.finish(env.StreamID) {
		return
	}
	ss.send(protocol.Envelope{Type: protocol.TypeStreamStopped, StreamID: env.StreamID, Timestamp: time.Now().UnixMilli()})
}

// finish cancels and forgets a stream. It reports whether the stream was
// still running, so exactly one stream_stopped is sent.
func (ss *session) finish(streamID string) bool {
	ss.mu.Lock()
	cancel, ok := ss.streams[streamID]
	delete(ss.streams, streamID)
	ss.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (ss *session) send(env protocol.Envelope) error {
	frame, err := ss.server.codec.Encode(env)
	if err != nil {
		return err
	}
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ss.conn.WriteMessage(websocket.TextMessage, frame)
}

// sendLive sends env only while streamID is running, so nothing follows
// its stream_stopped.
func (ss *session) sendLive(streamID string, env protocol.Envelope) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.streams[streamID]; ok {
		ss.send(env)
	}
}

func (ss *session) sendError(streamID, code, msg string) error {
	return ss.send(protocol.Envelope{
		Type:      protocol.TypeError,
		StreamID:  streamID,
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (ss *session) close() {
	ss.cancel()
	ss.conn.Close()
}
