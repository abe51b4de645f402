// Package notify fans notification events out to live user connections.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// Connection is one live client transport.
type Connection interface {
	ID() string
	Send(ctx context.Context, event *models.NotificationEvent) error
	Close() error
}

// Hub maps users to their live connections. Delivery is best-effort and
// at-most-once; nothing is buffered for absent users.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[string]Connection // user id -> connection id -> connection
	logger arbor.ILogger
}

// NewHub creates an empty hub.
func NewHub(logger arbor.ILogger) *Hub {
	return &Hub{
		conns:  make(map[string]map[string]Connection),
		logger: logger,
	}
}

// Subscribe attaches the hub to every notification event on the bus.
func (h *Hub) Subscribe(bus interfaces.EventService) error {
	for _, eventType := range interfaces.NotificationEventTypes {
		if err := bus.Subscribe(eventType, h.HandleEvent); err != nil {
			return fmt.Errorf("failed to subscribe hub to %s: %w", eventType, err)
		}
	}
	return nil
}

// Register adds conn to the user's connection set.
func (h *Hub) Register(userID string, conn Connection) error {
	if userID == "" {
		return common.NewValidationError("user id is required")
	}
	if conn == nil {
		return common.NewValidationError("connection is required")
	}

	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[string]Connection)
		h.conns[userID] = set
	}
	set[conn.ID()] = conn
	count := len(set)
	h.mu.Unlock()

	h.logger.Debug().
		Str("user_id", userID).
		Str("connection_id", conn.ID()).
		Int("connections", count).
		Msg("Connection registered")
	return nil
}

// Unregister removes conn. It reports whether the connection was registered.
func (h *Hub) Unregister(userID string, conn Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(h.conns, userID)
	}
	return true
}

type target struct {
	userID string
	conn   Connection
}

// Publish sends event to every connection of event.UserID and returns the
// number of successful deliveries. A connection that fails is dropped and
// closed; its siblings still receive the event.
func (h *Hub) Publish(ctx context.Context, event *models.NotificationEvent) int {
	if event == nil || event.UserID == "" {
		return 0
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.conns[event.UserID]))
	for _, conn := range h.conns[event.UserID] {
		targets = append(targets, target{userID: event.UserID, conn: conn})
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.logger.Debug().
			Str("user_id", event.UserID).
			Str("type", string(event.Type)).
			Msg("No live connection, event dropped")
		return 0
	}
	return h.deliver(ctx, event, targets)
}

// Broadcast sends event to every live connection of every user.
func (h *Hub) Broadcast(ctx context.Context, event *models.NotificationEvent) int {
	if event == nil {
		return 0
	}

	h.mu.RLock()
	var targets []target
	for userID, set := range h.conns {
		for _, conn := range set {
			targets = append(targets, target{userID: userID, conn: conn})
		}
	}
	h.mu.RUnlock()

	return h.deliver(ctx, event, targets)
}

func (h *Hub) deliver(ctx context.Context, event *models.NotificationEvent, targets []target) int {
	delivered := 0
	for _, t := range targets {
		if err := t.conn.Send(ctx, event); err != nil {
			h.logger.Warn().
				Str("user_id", t.userID).
				Str("connection_id", t.conn.ID()).
				Str("type", string(event.Type)).
				Err(err).
				Msg("Send failed, dropping connection")
			if h.Unregister(t.userID, t.conn) {
				t.conn.Close()
			}
			continue
		}
		delivered++
	}
	return delivered
}

// HandleEvent is the bus handler for notification events.
func (h *Hub) HandleEvent(ctx context.Context, event interfaces.Event) error {
	n, ok := event.Payload.(*models.NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	h.Publish(ctx, n)
	return nil
}

// ConnectedUsers returns the users with at least one live connection, sorted.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Close closes and forgets every connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]map[string]Connection)
	h.mu.Unlock()

	for _, set := range conns {
		for _, conn := range set {
			conn.Close()
		}
	}
	return nil
}
