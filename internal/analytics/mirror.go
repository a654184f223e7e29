// Package analytics mirrors committed trades into the price-tick store used
// for charting. The mirror is best effort: the ledger stays the source of
// truth and a lost tick never affects balances.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/storage"
	"launchpad-ledger/internal/trading"
)

// Config controls batching.
type Config struct {
	// BatchSize flushes once this many ticks are buffered.
	BatchSize int
	// FlushInterval flushes whatever is buffered on this period.
	FlushInterval time.Duration
	// QueueSize bounds ticks waiting for the flush loop. Ticks are dropped
	// when it is full.
	QueueSize int
	// FlushAttempts bounds InsertBulk retries per batch.
	FlushAttempts uint
}

// DefaultConfig returns default mirror configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		QueueSize:     10000,
		FlushAttempts: 3,
	}
}

// Mirror implements trading.Observer by queueing a price tick per trade and
// writing them to a PriceTickStore in batches.
type Mirror struct {
	store storage.PriceTickStore
	cfg   Config
	queue chan *domain.PriceTick

	dropped atomic.Uint64
	written atomic.Uint64
}

var _ trading.Observer = (*Mirror)(nil)

// NewMirror creates a mirror. Run must be started for ticks to be written.
func NewMirror(store storage.PriceTickStore, cfg Config) *Mirror {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.FlushAttempts == 0 {
		cfg.FlushAttempts = def.FlushAttempts
	}
	return &Mirror{
		store: store,
		cfg:   cfg,
		queue: make(chan *domain.PriceTick, cfg.QueueSize),
	}
}

// OnTrade queues the trade's price tick without blocking.
func (m *Mirror) OnTrade(ctx context.Context, r *trading.Result) {
	tick := domain.NewPriceTick(&r.Trade, &r.Token)
	select {
	case m.queue <- tick:
	default:
		m.dropped.Add(1)
		log.Ctx(ctx).Warn().
			Str("component", "analytics").
			Str("token_id", tick.TokenID).
			Int64("seq", tick.Seq).
			Msg("price tick queue full, dropping tick")
	}
}

// Dropped returns the number of ticks dropped because the queue was full.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

// Written returns the number of ticks handed to the store successfully.
func (m *Mirror) Written() uint64 { return m.written.Load() }

// Run flushes queued ticks until ctx is cancelled, then drains the queue
// with a bounded grace period.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.PriceTick, 0, m.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case tick := <-m.queue:
					batch = append(batch, tick)
				default:
					break drain
				}
			}
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			m.flush(drainCtx, batch)
			cancel()
			return ctx.Err()

		case tick := <-m.queue:
			batch = append(batch, tick)
			if len(batch) >= m.cfg.BatchSize {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (m *Mirror) flush(ctx context.Context, batch []*domain.PriceTick) {
	batch = dedupe(batch)
	if len(batch) == 0 {
		return
	}

	err := retry.Do(func() error {
		return m.store.InsertBulk(ctx, batch)
	},
		retry.Context(ctx),
		retry.Attempts(m.cfg.FlushAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, storage.ErrInvalidInput) && !errors.Is(err, storage.ErrDuplicateKey)
		}),
	)
	if err != nil {
		m.dropped.Add(uint64(len(batch)))
		log.Ctx(ctx).Error().
			Str("component", "analytics").
			Int("ticks", len(batch)).
			Err(err).
			Msg("failed to mirror price ticks")
		return
	}

	m.written.Add(uint64(len(batch)))
	log.Ctx(ctx).Debug().
		Str("component", "analytics").
		Int("ticks", len(batch)).
		Msg("mirrored price ticks")
}

// dedupe keeps the first tick per (token, seq).
func dedupe(batch []*domain.PriceTick) []*domain.PriceTick {
	type key struct {
		tokenID string
		seq     int64
	}
	seen := make(map[key]struct{}, len(batch))
	out := make([]*domain.PriceTick, 0, len(batch))
	for _, t := range batch {
		k := key{t.TokenID, t.Seq}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// History returns a token's mirrored ticks within [start, end] ms.
func History(ctx context.Context, store storage.PriceTickStore, tokenID string, start, end int64) ([]*domain.PriceTick, error) {
	if end < start {
		return nil, fmt.Errorf("end %d before start %d: %w", end, start, storage.ErrInvalidInput)
	}
	return store.GetByTimeRange(ctx, tokenID, start, end)
}
