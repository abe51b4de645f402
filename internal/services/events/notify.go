package events

import (
	"context"
	"time"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// Emit stamps a notification and publishes it synchronously, so events
// emitted from one goroutine reach subscribers in order.
func Emit(ctx context.Context, bus interfaces.EventService, notification *models.NotificationEvent) error {
	if bus == nil {
		return nil
	}
	if notification.ID == "" {
		notification.ID = common.NewID("evt")
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}
	return bus.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventType(notification.Type),
		Payload: notification,
	})
}
