package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var mu sync.Mutex
	received := []string{}
	for _, name := range []string{"a", "b"} {
		require.NoError(t, service.Subscribe(interfaces.EventPriceChanged, func(ctx context.Context, event interfaces.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, name)
			return nil
		}))
	}

	err := service.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventPriceChanged,
		Payload: &models.NotificationEvent{Type: models.NotificationPriceChanged, UserID: "u1"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, received)
}

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())
	boom := errors.New("boom")
	require.NoError(t, service.Subscribe(interfaces.EventDegraded, func(ctx context.Context, event interfaces.Event) error {
		return boom
	}))
	require.NoError(t, service.Subscribe(interfaces.EventDegraded, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventDegraded})
	assert.ErrorIs(t, err, boom)
}

func TestPublishSyncRecoversPanickingHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())
	called := false
	require.NoError(t, service.Subscribe(interfaces.EventDegraded, func(ctx context.Context, event interfaces.Event) error {
		panic("handler bug")
	}))
	require.NoError(t, service.Subscribe(interfaces.EventDegraded, func(ctx context.Context, event interfaces.Event) error {
		called = true
		return nil
	}))

	assert.NotPanics(t, func() {
		_ = service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventDegraded})
	})
	assert.True(t, called)
}

func TestPublishAsync(t *testing.T) {
	service := NewService(arbor.NewLogger())
	done := make(chan interfaces.Event, 1)
	require.NoError(t, service.Subscribe(interfaces.EventMarketSummary, func(ctx context.Context, event interfaces.Event) error {
		done <- event
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventMarketSummary}))

	select {
	case event := <-done:
		assert.Equal(t, interfaces.EventMarketSummary, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())
	assert.Error(t, service.Subscribe(interfaces.EventPriceChanged, nil))
}

func TestPublishAfterClose(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.Close())
	assert.Error(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventPriceChanged}))
	assert.Error(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventPriceChanged}))
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	logger := arbor.NewLogger()
	service := NewService(logger)
	require.NoError(t, SubscribeLoggerToAllEvents(service, logger))

	for _, eventType := range interfaces.NotificationEventTypes {
		handlers, _ := service.handlers(eventType)
		assert.Len(t, handlers, 1, string(eventType))
	}

	handler := NewLoggerSubscriber(logger)
	assert.NoError(t, handler(context.Background(), interfaces.Event{
		Type:    interfaces.EventStrategyChanged,
		Payload: &models.NotificationEvent{UserID: "u1", PortfolioID: "p1", HoldingID: "h1"},
	}))
}

func TestEmitStampsAndPublishes(t *testing.T) {
	service := NewService(arbor.NewLogger())
	var got *models.NotificationEvent
	require.NoError(t, service.Subscribe(interfaces.EventStrategyChanged, func(ctx context.Context, event interfaces.Event) error {
		got = event.Payload.(*models.NotificationEvent)
		return nil
	}))

	require.NoError(t, Emit(context.Background(), service, &models.NotificationEvent{
		Type:   models.NotificationStrategyChanged,
		UserID: "u1",
	}))
	require.NotNil(t, got)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())

	assert.NoError(t, Emit(context.Background(), nil, &models.NotificationEvent{}))
}
