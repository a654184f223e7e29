package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/rewards"
	"launchpad-ledger/internal/trading"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(HubConfig{PingInterval: 50 * time.Millisecond, WriteTimeout: time.Second})
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, 2*time.Second, 5*time.Millisecond)
}

func tradeResult(tokenID string, seq int64) *trading.Result {
	return &trading.Result{
		Token: domain.Token{
			ID:           tokenID,
			CurrentPrice: decimal.RequireFromString("0.0010001"),
			MarketCap:    decimal.RequireFromString("1000100"),
		},
		Trade: domain.Trade{
			TokenID:   tokenID,
			UserID:    "alice",
			Direction: domain.DirectionBuy,
			Value:     decimal.NewFromInt(1),
			Seq:       seq,
		},
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_BroadcastsTrades(t *testing.T) {
	hub, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	waitSubscribers(t, hub, 2)

	hub.OnTrade(context.Background(), tradeResult("tok-1", 7))

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, EventTrade, ev.Type)
		assert.Equal(t, "tok-1", ev.TokenID)
		require.NotNil(t, ev.Trade)
		assert.Equal(t, int64(7), ev.Trade.Seq)
		assert.True(t, ev.Trade.Price.Equal(decimal.RequireFromString("0.0010001")))
	}
}

func TestHub_TokenFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?token=tok-2")
	waitSubscribers(t, hub, 1)

	ctx := context.Background()
	hub.OnTrade(ctx, tradeResult("tok-1", 1))
	hub.OnTrade(ctx, tradeResult("tok-2", 2))
	hub.OnDistribution(ctx, &rewards.TickResult{
		Outcome: rewards.OutcomeCommitted,
		Total:   decimal.RequireFromString("0.5"),
		Credits: []rewards.Credit{{UserID: "alice"}},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, "tok-2", ev.TokenID)

	ev = readEvent(t, conn)
	assert.Equal(t, EventDistribution, ev.Type)
	require.NotNil(t, ev.Distribution)
	assert.Equal(t, 1, ev.Distribution.Stakers)
	assert.True(t, ev.Distribution.Total.Equal(decimal.RequireFromString("0.5")))
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitSubscribers(t, hub, 1)

	conn.Close()
	waitSubscribers(t, hub, 0)
}

func TestHub_CloseRejectsNewSubscribers(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitSubscribers(t, hub, 1)

	hub.Close()
	waitSubscribers(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	late := dial(t, url)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestClient_ReceivesEvents(t *testing.T) {
	hub, url := startHub(t)

	client, err := Dial(context.Background(), url, &ClientConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      50 * time.Millisecond,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
	})
	require.NoError(t, err)
	defer client.Close()
	waitSubscribers(t, hub, 1)

	hub.OnTrade(context.Background(), tradeResult("tok-1", 3))

	select {
	case ev := <-client.Events():
		assert.Equal(t, EventTrade, ev.Type)
		assert.Equal(t, int64(3), ev.Trade.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestClient_DialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/feed", nil)
	assert.Error(t, err)
}
