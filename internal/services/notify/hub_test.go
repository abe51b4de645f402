package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/events"
)

type fakeConn struct {
	id     string
	fail   bool
	mu     sync.Mutex
	sent   []*models.NotificationEvent
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, event *models.NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func event(userID string) *models.NotificationEvent {
	return &models.NotificationEvent{ID: "e1", Type: models.NotificationPriceChanged, UserID: userID}
}

func TestPublishFansOutToUserConnections(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	a, b, other := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c"}
	require.NoError(t, hub.Register("u1", a))
	require.NoError(t, hub.Register("u1", b))
	require.NoError(t, hub.Register("u2", other))

	assert.Equal(t, 2, hub.Publish(context.Background(), event("u1")))
	assert.Equal(t, 1, a.received())
	assert.Equal(t, 1, b.received())
	assert.Equal(t, 0, other.received())
}

func TestPublishDropsFailingConnection(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	good, bad := &fakeConn{id: "good"}, &fakeConn{id: "bad", fail: true}
	require.NoError(t, hub.Register("u1", good))
	require.NoError(t, hub.Register("u1", bad))

	assert.Equal(t, 1, hub.Publish(context.Background(), event("u1")))
	assert.Equal(t, 1, good.received())
	assert.True(t, bad.closed)
	assert.Equal(t, 1, hub.ConnectionCount("u1"))

	assert.Equal(t, 1, hub.Publish(context.Background(), event("u1")))
	assert.Equal(t, 2, good.received())
}

func TestPublishWithoutConnectionsIsDropped(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	assert.Equal(t, 0, hub.Publish(context.Background(), event("nobody")))

	// No replay once the user connects
	conn := &fakeConn{id: "late"}
	require.NoError(t, hub.Register("nobody", conn))
	assert.Equal(t, 0, conn.received())
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	conn := &fakeConn{id: "a"}

	err := hub.Register("", conn)
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, hub.Register("u2", &fakeConn{id: "x"}))
	require.NoError(t, hub.Register("u1", conn))
	assert.Equal(t, []string{"u1", "u2"}, hub.ConnectedUsers())

	assert.True(t, hub.Unregister("u1", conn))
	assert.False(t, hub.Unregister("u1", conn))
	assert.Equal(t, 0, hub.ConnectionCount("u1"))
	assert.Equal(t, []string{"u2"}, hub.ConnectedUsers())
}

func TestHandleEventFromBus(t *testing.T) {
	logger := arbor.NewLogger()
	hub := NewHub(logger)
	bus := events.NewService(logger)
	require.NoError(t, hub.Subscribe(bus))

	conn := &fakeConn{id: "a"}
	require.NoError(t, hub.Register("u1", conn))

	require.NoError(t, events.Emit(context.Background(), bus, &models.NotificationEvent{
		Type:   models.NotificationStrategyChanged,
		UserID: "u1",
	}))
	assert.Equal(t, 1, conn.received())

	err := hub.HandleEvent(context.Background(), interfaces.Event{Type: interfaces.EventDegraded, Payload: "bogus"})
	assert.Error(t, err)
}

func TestConcurrentRegisterAndPublish(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: fmt.Sprintf("c%d", i)}
			assert.NoError(t, hub.Register("u1", conn))
			if i%2 == 0 {
				hub.Unregister("u1", conn)
			}
		}(i)
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), event("u1"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, hub.ConnectionCount("u1"))
}

func TestCloseClosesConnections(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	conn := &fakeConn{id: "a"}
	require.NoError(t, hub.Register("u1", conn))
	require.NoError(t, hub.Close())
	assert.True(t, conn.closed)
	assert.Empty(t, hub.ConnectedUsers())
}

func TestBroadcastReachesEveryUser(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	a, b, broken := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c", fail: true}
	require.NoError(t, hub.Register("u1", a))
	require.NoError(t, hub.Register("u2", b))
	require.NoError(t, hub.Register("u2", broken))

	msg := &models.NotificationEvent{ID: "s1", Type: models.NotificationSystemMessage, Payload: map[string]interface{}{"message": "maintenance at 18:00"}}
	assert.Equal(t, 2, hub.Broadcast(context.Background(), msg))
	assert.Equal(t, 1, a.received())
	assert.Equal(t, 1, b.received())
	assert.True(t, broken.closed)
	assert.Equal(t, 1, hub.ConnectionCount("u2"))

	assert.Zero(t, hub.Broadcast(context.Background(), nil))
}
