package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/api"
	"github.com/GriffinCanCode/agentshell/internal/api/middleware"
	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentshell/internal/routing"
	"github.com/GriffinCanCode/agentshell/internal/shared/id"
	"github.com/GriffinCanCode/agentshell/internal/shared/utils"
)

// Backend is the part of the shell a websocket client drives.
type Backend interface {
	Invoke(ctx context.Context, from routing.Surface, op appserver.Operation, params any) (json.RawMessage, error)
	RespondApproval(requestID string, decision appserver.ApprovalDecision) error
	RespondUserInput(requestID string, answers map[string]any) error
	Router() *routing.Router
}

// Config tunes connection handling.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	MaxMessage   int64
	CallTimeout  time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 50 * time.Second,
		MaxMessage:   4 << 20,
		CallTimeout:  5 * time.Minute,
		CheckOrigin:  checkOrigin,
	}
}

// checkOrigin admits non-browser clients and loopback pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || middleware.IsLoopbackOrigin(origin) || origin == "tauri://localhost"
}

// Handler manages WebSocket connections. Every connection becomes a
// routing surface for as long as it stays open.
type Handler struct {
	backend  Backend
	cfg      Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(b Backend, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = def.MaxMessage
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = def.CheckOrigin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		backend: b,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Close drops every open connection and refuses new ones. Server shutdown
// does not reach hijacked connections on its own.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.Close()
	}
}

func (h *Handler) track(c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if !h.track(conn) {
		conn.Close()
		return
	}
	defer h.untrack(conn)

	s := newSurface(id.NewSurfaceID().String(), h.cfg.SendBuffer)
	logger := h.logger.With(zap.String("surface", s.ID()))
	router := h.backend.Router()
	if err := router.Register(s); err != nil {
		logger.Warn("surface registration failed", zap.Error(err))
		conn.Close()
		return
	}
	h.metrics.IncWSConnections()
	logger.Info("surface connected", zap.String("remote", c.ClientIP()))

	// Calls outlive a single read but not the connection.
	ctx, cancel := context.WithCancel(context.Background())
	var calls sync.WaitGroup
	writerDone := make(chan struct{})

	defer func() {
		cancel()
		s.close()
		_ = router.Unregister(s.ID())
		calls.Wait()
		<-writerDone
		conn.Close()
		h.metrics.DecWSConnections()
		logger.Info("surface disconnected")
	}()

	go h.writePump(conn, s, writerDone, logger)

	h.send(s, OutboundMessage{Type: TypeHello, SurfaceID: s.ID()})

	conn.SetReadLimit(h.cfg.MaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		var msg InboundMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.metrics.RecordWSMessage("in", "malformed")
			h.sendError(s, "", fmt.Errorf("%w: %v", api.ErrBadRequest, err))
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		if msg.Type == TypeCall {
			calls.Add(1)
			go func() {
				defer calls.Done()
				h.handleCall(ctx, s, msg)
			}()
			continue
		}
		h.handleMessage(s, msg, logger)
	}
}

func (h *Handler) handleMessage(s *Surface, msg InboundMessage, logger *zap.Logger) {
	router := h.backend.Router()
	var err error
	switch msg.Type {
	case TypeAttach:
		if err = utils.ValidateID(msg.SessionID, "sessionId"); err != nil {
			break
		}
		err = router.Associate(msg.SessionID, s)
	case TypeDetach:
		if err = utils.ValidateID(msg.SessionID, "sessionId"); err != nil {
			break
		}
		if owner, ok := router.SurfaceFor(msg.SessionID); ok && owner == s.ID() {
			err = router.Dissociate(msg.SessionID)
		}
	case TypeApprovalResponse:
		if err = utils.ValidateRequestID(msg.RequestID, "requestId"); err != nil {
			break
		}
		err = h.backend.RespondApproval(msg.RequestID, appserver.ApprovalDecision(msg.Decision))
	case TypeUserInputResponse:
		if err = utils.ValidateRequestID(msg.RequestID, "requestId"); err != nil {
			break
		}
		err = h.backend.RespondUserInput(msg.RequestID, msg.Answers)
	case TypePing:
		h.send(s, OutboundMessage{Type: TypePong, ID: msg.ID})
		return
	default:
		err = fmt.Errorf("%w: unknown message type %q", api.ErrBadRequest, msg.Type)
	}
	if err != nil {
		logger.Debug("websocket message failed", zap.String("type", msg.Type), zap.Error(err))
		h.sendError(s, msg.ID, err)
		return
	}
	h.send(s, OutboundMessage{Type: TypeAck, ID: msg.ID})
}

func (h *Handler) handleCall(ctx context.Context, s *Surface, msg InboundMessage) {
	if msg.ID == "" {
		msg.ID = id.NewCallID()
	}
	op, err := appserver.ParseOperation(msg.Operation)
	if err != nil {
		h.sendError(s, msg.ID, fmt.Errorf("%w: %q", err, msg.Operation))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	if err := utils.ValidateParams(msg.Params); err != nil {
		h.sendError(s, msg.ID, err)
		return
	}
	var params any
	if len(msg.Params) > 0 {
		params = msg.Params
	}
	result, err := h.backend.Invoke(ctx, s, op, params)
	if err != nil {
		h.sendError(s, msg.ID, err)
		return
	}
	h.send(s, OutboundMessage{Type: TypeResult, ID: msg.ID, Result: result})
}

func (h *Handler) send(s *Surface, msg OutboundMessage) {
	if err := s.reply(msg); err != nil {
		return
	}
	h.metrics.RecordWSMessage("out", msg.Type)
}

func (h *Handler) sendError(s *Surface, callID string, err error) {
	h.send(s, OutboundMessage{Type: TypeError, ID: callID, Error: api.FromError(err)})
}

// writePump is the only writer on conn.
func (h *Handler) writePump(conn *websocket.Conn, s *Surface, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				s.close()
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				s.close()
				conn.Close()
				return
			}
		case <-s.closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
