package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs notification events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if n, ok := event.Payload.(*models.NotificationEvent); ok {
			logEvent = logEvent.Str("user_id", n.UserID).
				Str("portfolio_id", n.PortfolioID)
			if n.HoldingID != "" {
				logEvent = logEvent.Str("holding_id", n.HoldingID)
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to every notification type
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range interfaces.NotificationEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(interfaces.NotificationEventTypes)).
		Msg("Logger subscribed to notification events")

	return nil
}
