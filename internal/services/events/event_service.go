package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
)

// Service is the in-process pub/sub bus connecting the schedulers to the
// notification hub.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) handlers(eventType interfaces.EventType) ([]interfaces.EventHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}
	handlers := make([]interfaces.EventHandler, len(s.subscribers[eventType]))
	copy(handlers, s.subscribers[eventType])
	return handlers, true
}

// Publish sends an event to all subscribers asynchronously. Delivery order
// between two Publish calls is not guaranteed; use PublishSync when the
// consumer depends on ordering.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers, open := s.handlers(event.Type)
	if !open {
		return fmt.Errorf("event service closed")
	}
	if len(handlers) == 0 {
		s.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No subscribers for event")
		return nil
	}

	for _, handler := range handlers {
		common.SafeGo(s.logger, "event:"+string(event.Type), func() {
			if err := handler(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		})
	}

	return nil
}

// PublishSync delivers the event to every subscriber and waits for them.
// Handlers run concurrently; errors are joined.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers, open := s.handlers(event.Type)
	if !open {
		return fmt.Errorf("event service closed")
	}
	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(handlers))

	for i, handler := range handlers {
		common.SafeGoGroup(&wg, s.logger, "event:"+string(event.Type), func() {
			if err := handler(ctx, event); err != nil {
				s.logger.Warn().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
				errs[i] = err
			}
		})
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("event handlers failed for %s: %w", event.Type, err)
	}
	return nil
}

// Close drops all subscribers; later publishes fail.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.closed = true
	s.logger.Info().Msg("Event service closed")

	return nil
}
