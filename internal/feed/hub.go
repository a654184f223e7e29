// Package feed streams committed trades and reward distributions to
// websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/rewards"
	"launchpad-ledger/internal/trading"
)

// Event types
const (
	EventTrade        = "trade"
	EventDistribution = "distribution"
)

// Event is one message on the feed.
type Event struct {
	Type         string             `json:"type"`
	TokenID      string             `json:"token_id,omitempty"`
	Trade        *TradeEvent        `json:"trade,omitempty"`
	Distribution *DistributionEvent `json:"distribution,omitempty"`
}

// TradeEvent is a committed trade with the post-trade token snapshot.
type TradeEvent struct {
	Seq                  int64            `json:"seq"`
	UserID               string           `json:"user_id"`
	Direction            domain.Direction `json:"direction"`
	Value                decimal.Decimal  `json:"value"`
	TokenAmount          decimal.Decimal  `json:"token_amount"`
	Price                decimal.Decimal  `json:"price"`
	MarketCap            decimal.Decimal  `json:"market_cap"`
	BondingCurveProgress decimal.Decimal  `json:"bonding_curve_progress"`
	Volume24h            decimal.Decimal  `json:"volume_24h"`
	Holders              int64            `json:"holders"`
	ExecutedAt           time.Time        `json:"executed_at"`
}

// DistributionEvent summarizes a committed reward tick.
type DistributionEvent struct {
	DistributedAt time.Time       `json:"distributed_at"`
	Total         decimal.Decimal `json:"total"`
	PoolAfter     decimal.Decimal `json:"pool_after"`
	Stakers       int             `json:"stakers"`
}

// HubConfig configures subscriber connections.
type HubConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// PongTimeout is how long a subscriber may stay silent before it is dropped.
	PongTimeout time.Duration
	// SendBuffer is the per-subscriber queue length. A subscriber whose
	// queue is full is disconnected rather than slowing the writers.
	SendBuffer int
	// AllowedOrigins lists accepted Origin headers. Empty accepts any.
	AllowedOrigins []string
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		SendBuffer:   256,
	}
}

// Hub fans events out to websocket subscribers. It implements
// trading.Observer and rewards.Observer.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
}

var (
	_ trading.Observer = (*Hub)(nil)
	_ rewards.Observer = (*Hub)(nil)
)

type subscriber struct {
	conn    *websocket.Conn
	tokenID string // empty subscribes to every token
	send    chan []byte
	once    sync.Once
	done    chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	h := &Hub{
		cfg:     cfg,
		clients: make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the subscriber
// disconnects. The optional token query parameter filters trade events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Ctx(r.Context()).Debug().Str("component", "feed").Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn:    conn,
		tokenID: r.URL.Query().Get("token"),
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(sub) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		conn.Close()
		return
	}

	go h.readLoop(sub)
	h.writeLoop(r.Context(), sub)
}

func (h *Hub) register(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[sub] = struct{}{}
	observability.SetFeedSubscribers(len(h.clients))
	return true
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	n := len(h.clients)
	h.mu.Unlock()

	sub.close()
	observability.SetFeedSubscribers(n)
}

// readLoop discards client frames and keeps the read deadline fresh on pong.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.close()

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		h.unregister(sub)
		sub.conn.Close()
	}()

	for {
		select {
		case msg := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues ev for every matching subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Error().Str("component", "feed").Err(err).Msg("marshal feed event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.clients {
		if ev.Type == EventTrade && sub.tokenID != "" && sub.tokenID != ev.TokenID {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			log.Ctx(ctx).Warn().
				Str("component", "feed").
				Str("remote", sub.conn.RemoteAddr().String()).
				Msg("feed subscriber too slow, disconnecting")
			sub.close()
		}
	}
}

// OnTrade publishes a committed trade.
func (h *Hub) OnTrade(ctx context.Context, r *trading.Result) {
	h.Publish(ctx, Event{
		Type:    EventTrade,
		TokenID: r.Token.ID,
		Trade: &TradeEvent{
			Seq:                  r.Trade.Seq,
			UserID:               r.Trade.UserID,
			Direction:            r.Trade.Direction,
			Value:                r.Trade.Value,
			TokenAmount:          r.Trade.TokenAmount,
			Price:                r.Token.CurrentPrice,
			MarketCap:            r.Token.MarketCap,
			BondingCurveProgress: r.Token.BondingCurveProgress,
			Volume24h:            r.Token.Volume24h,
			Holders:              r.Token.Holders,
			ExecutedAt:           r.Trade.ExecutedAt,
		},
	})
}

// OnDistribution publishes a committed reward tick.
func (h *Hub) OnDistribution(ctx context.Context, r *rewards.TickResult) {
	h.Publish(ctx, Event{
		Type: EventDistribution,
		Distribution: &DistributionEvent{
			DistributedAt: r.DistributedAt,
			Total:         r.Total,
			PoolAfter:     r.PoolAfter,
			Stakers:       len(r.Credits),
		},
	})
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
