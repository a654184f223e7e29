package clickhouse

import (
	"context"
	"fmt"
	"time"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/storage"
)

// PriceTickStore implements storage.PriceTickStore using ClickHouse.
type PriceTickStore struct {
	conn *Conn
}

// NewPriceTickStore creates a new PriceTickStore.
func NewPriceTickStore(conn *Conn) *PriceTickStore {
	return &PriceTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceTickStore = (*PriceTickStore)(nil)

// InsertBulk adds multiple ticks keyed by (token_id, seq).
// Intra-batch duplicates fail the batch. Ticks already mirrored are skipped,
// so re-mirroring a trade is harmless.
func (s *PriceTickStore) InsertBulk(ctx context.Context, ticks []*domain.PriceTick) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_price_ticks", time.Since(start).Seconds(), err)
	}()
	return s.insertBulk(ctx, ticks)
}

func (s *PriceTickStore) insertBulk(ctx context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	type key struct {
		tokenID string
		seq     int64
	}
	seen := make(map[key]struct{}, len(ticks))
	for _, p := range ticks {
		if p == nil || p.TokenID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.TokenID, p.Seq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	var fresh []*domain.PriceTick
	for _, p := range ticks {
		exists, err := s.exists(ctx, p.TokenID, p.Seq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if !exists {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (
			token_id, seq, timestamp_ms, direction, price, market_cap, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range fresh {
		err = batch.Append(
			p.TokenID, uint64(p.Seq), uint64(p.TimestampMs), string(p.Direction),
			p.Price, p.MarketCap, p.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves ticks for a token within [start, end] (inclusive), ordered by seq ASC.
func (s *PriceTickStore) GetByTimeRange(ctx context.Context, tokenID string, start, end int64) ([]*domain.PriceTick, error) {
	query := `
		SELECT token_id, seq, timestamp_ms, direction, price, market_cap, volume
		FROM price_ticks FINAL
		WHERE token_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.PriceTick
	for rows.Next() {
		var p domain.PriceTick
		var seq, timestampMs uint64
		var direction string

		err := rows.Scan(
			&p.TokenID, &seq, &timestampMs, &direction,
			&p.Price, &p.MarketCap, &p.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price tick row: %w", err)
		}

		p.Seq = int64(seq)
		p.TimestampMs = int64(timestampMs)
		p.Direction = domain.Direction(direction)
		ticks = append(ticks, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price tick rows: %w", err)
	}

	return ticks, nil
}

// exists checks if a tick with the given key exists.
func (s *PriceTickStore) exists(ctx context.Context, tokenID string, seq int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_ticks
		WHERE token_id = ? AND seq = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, tokenID, uint64(seq)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
