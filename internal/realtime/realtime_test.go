package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

func TestHubDeliverOnlyReachesMerchant(t *testing.T) {
	hub := NewHub(logger.Nop())
	merchantA, merchantB := uuid.New(), uuid.New()

	a := newClient(merchantA)
	b := newClient(merchantB)
	hub.register(a)
	hub.register(b)

	delivered := hub.Deliver(context.Background(), Notification{Type: NotificationOrderPaid, MerchantID: merchantA, OrderCode: "ORD-1"})
	assert.Equal(t, 1, delivered)
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 0)

	hub.unregister(a)
	assert.Equal(t, 0, hub.Connections(merchantA))
	assert.Equal(t, 0, hub.Deliver(context.Background(), Notification{MerchantID: merchantA}))
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	merchant := uuid.New()
	c := newClient(merchant)
	hub.register(c)

	for i := 0; i < sendBuffer; i++ {
		require.Equal(t, 1, hub.Deliver(context.Background(), Notification{MerchantID: merchant}))
	}
	assert.Equal(t, 0, hub.Deliver(context.Background(), Notification{MerchantID: merchant}))
}

func TestBroadcasterWithoutRedisDeliversLocally(t *testing.T) {
	hub := NewHub(logger.Nop())
	b, err := NewBroadcaster(hub, nil, nil, logger.Nop())
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	merchant := uuid.New()
	c := newClient(merchant)
	hub.register(c)

	require.NoError(t, b.NotifyMerchant(context.Background(), merchant, Notification{Type: NotificationOrderPlacedCOD, OrderCode: "ORD-2"}))
	got := <-c.send
	assert.Equal(t, merchant, got.MerchantID)
	assert.Equal(t, "ORD-2", got.OrderCode)
	assert.Equal(t, fixed, got.SentAt)
}

func TestNewBroadcasterValidates(t *testing.T) {
	_, err := NewBroadcaster(nil, nil, nil, logger.Nop())
	assert.Error(t, err)
	_, err = NewBroadcaster(NewHub(nil), nil, nil, nil)
	assert.Error(t, err)
}

type staticKeys struct{}

func (staticKeys) ChannelKey(name string) string { return "bl:channel:" + name }

func TestBroadcasterUsesNamespacedChannel(t *testing.T) {
	b, err := NewBroadcaster(NewHub(nil), nil, staticKeys{}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "bl:channel:realtime:merchant", b.channel)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://shop.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "missing origin is allowed")

	req.Header.Set("Origin", "https://shop.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}

func TestSocketReceivesNotifications(t *testing.T) {
	hub := NewHub(logger.Nop())
	b, err := NewBroadcaster(hub, nil, nil, logger.Nop())
	require.NoError(t, err)
	merchant := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Upgrade(w, r, merchant, SocketOptions{PingInterval: time.Second})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello Notification
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, NotificationConnected, hello.Type)

	require.Eventually(t, func() bool { return hub.Connections(merchant) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.NotifyMerchant(context.Background(), merchant, Notification{Type: NotificationOrderPaid, OrderCode: "ORD-3"}))
	var got Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, NotificationOrderPaid, got.Type)
	assert.Equal(t, "ORD-3", got.OrderCode)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connections(merchant) == 0 }, 2*time.Second, 10*time.Millisecond)
}
