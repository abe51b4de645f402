package interfaces

import (
	"context"

	"github.com/ternarybob/tradepulse/internal/models"
)

// EventType represents different event types on the domain bus
type EventType string

const (
	EventPriceChanged    EventType = EventType(models.NotificationPriceChanged)
	EventStrategyChanged EventType = EventType(models.NotificationStrategyChanged)
	EventDegraded        EventType = EventType(models.NotificationDegraded)
	EventMarketSummary   EventType = EventType(models.NotificationMarketSummary)
	EventNewsAlert       EventType = EventType(models.NotificationNewsAlert)
)

// NotificationEventTypes lists the events fanned out to user connections.
var NotificationEventTypes = []EventType{
	EventPriceChanged,
	EventStrategyChanged,
	EventDegraded,
	EventMarketSummary,
	EventNewsAlert,
}

// Event represents a domain event. Payload is a *models.NotificationEvent for
// the notification types.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers without waiting
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	Close() error
}
