package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client message types
const (
	MsgConnectionEstablished = "CONNECTION_ESTABLISHED"
	MsgPing                  = "PING"
	MsgPong                  = "PONG"
	MsgRequestStrategy       = "REQUEST_STRATEGY_UPDATE"
	MsgStrategyStarted       = "STRATEGY_UPDATE_STARTED"
	MsgError                 = "ERROR"
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsOutbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type strategyRequest struct {
	PortfolioID string `json:"portfolio_id"`
}

// StrategyTrigger starts a background strategy cycle.
type StrategyTrigger interface {
	TriggerStrategyCycle(ctx context.Context, portfolioID string) error
}

// WSConnection adapts a websocket to notify.Connection.
type WSConnection struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
}

var _ notify.Connection = (*WSConnection)(nil)

func newWSConnection(conn *websocket.Conn, writeTimeout time.Duration) *WSConnection {
	return &WSConnection{
		id:           uuid.New().String(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *WSConnection) ID() string { return c.id }

// Send writes the event as a typed frame.
func (c *WSConnection) Send(ctx context.Context, event *models.NotificationEvent) error {
	return c.write(string(event.Type), event)
}

func (c *WSConnection) write(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(wsOutbound{Type: msgType, Payload: payload})
}

func (c *WSConnection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// WebSocketHandler upgrades client sockets and registers them with the hub.
type WebSocketHandler struct {
	hub     *notify.Hub
	trigger StrategyTrigger
	config  common.WebSocketConfig
	logger  arbor.ILogger
}

// NewWebSocketHandler creates a WebSocketHandler
func NewWebSocketHandler(hub *notify.Hub, trigger StrategyTrigger, config common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		hub:     hub,
		trigger: trigger,
		config:  config,
		logger:  logger,
	}
}

// HandleWebSocket handles GET /ws?user_id=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	conn := newWSConnection(ws, h.config.WriteTimeout)
	if err := h.hub.Register(userID, conn); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to register connection")
		conn.Close()
		return
	}

	h.logger.Info().Str("user_id", userID).Str("connection_id", conn.ID()).Msg("Client connected")

	if err := conn.write(MsgConnectionEstablished, map[string]string{
		"connection_id": conn.ID(),
		"user_id":       userID,
	}); err != nil {
		h.hub.Unregister(userID, conn)
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if h.config.PingInterval > 0 {
		common.SafeGo(h.logger, "ws-ping-"+conn.ID(), func() {
			h.pingLoop(ctx, conn)
		})
	}

	h.readLoop(userID, conn)

	cancel()
	h.hub.Unregister(userID, conn)
	conn.Close()
	h.logger.Info().Str("user_id", userID).Str("connection_id", conn.ID()).Msg("Client disconnected")
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *WSConnection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				h.logger.Debug().Str("connection_id", conn.ID()).Err(err).Msg("Ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(userID string, conn *WSConnection) {
	// one refresh request per second, burst of three
	limiter := rate.NewLimiter(rate.Every(time.Second), 3)

	for {
		var msg WSMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("user_id", userID).Msg("WebSocket read error")
			}
			return
		}

		switch msg.Type {
		case MsgPing:
			conn.write(MsgPong, nil)
		case MsgRequestStrategy:
			if !limiter.Allow() {
				conn.write(MsgError, map[string]string{"error": "too many strategy requests"})
				continue
			}
			h.handleStrategyRequest(userID, conn, msg.Payload)
		default:
			conn.write(MsgError, map[string]string{"error": fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (h *WebSocketHandler) handleStrategyRequest(userID string, conn *WSConnection, raw json.RawMessage) {
	var req strategyRequest
	if len(raw) == 0 || json.Unmarshal(raw, &req) != nil || req.PortfolioID == "" {
		conn.write(MsgError, map[string]string{"error": "portfolio_id is required"})
		return
	}

	if err := h.trigger.TriggerStrategyCycle(context.Background(), req.PortfolioID); err != nil {
		h.logger.Warn().
			Str("user_id", userID).
			Str("portfolio_id", req.PortfolioID).
			Err(err).
			Msg("Strategy update request rejected")
		conn.write(MsgError, map[string]string{
			"error":        err.Error(),
			"kind":         string(common.Classify(err)),
			"portfolio_id": req.PortfolioID,
		})
		return
	}

	conn.write(MsgStrategyStarted, map[string]string{"portfolio_id": req.PortfolioID})
}

// StatusHandler handles GET /ws/status
func (h *WebSocketHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	users := h.hub.ConnectedUsers()
	connections := make(map[string]int, len(users))
	total := 0
	for _, userID := range users {
		n := h.hub.ConnectionCount(userID)
		connections[userID] = n
		total += n
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connected_users":   len(users),
		"total_connections": total,
		"connections":       connections,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// BroadcastHandler handles POST /ws/broadcast, a system message to every
// connected client.
func (h *WebSocketHandler) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Level == "" {
		req.Level = "info"
	}

	delivered := h.hub.Broadcast(r.Context(), &models.NotificationEvent{
		ID:        common.NewID("evt"),
		Type:      models.NotificationSystemMessage,
		Payload:   map[string]interface{}{"message": req.Message, "level": req.Level},
		Timestamp: time.Now(),
	})

	h.logger.Info().Str("level", req.Level).Int("delivered", delivered).Msg("System message broadcast")
	WriteJSON(w, http.StatusOK, map[string]interface{}{"delivered": delivered})
}
