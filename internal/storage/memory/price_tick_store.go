package memory

import (
	"context"
	"sort"
	"sync"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/storage"
)

type tickKey struct {
	tokenID string
	seq     int64
}

// PriceTickStore is an in-memory implementation of storage.PriceTickStore.
type PriceTickStore struct {
	mu   sync.RWMutex
	data map[tickKey]*domain.PriceTick
}

// NewPriceTickStore creates a new in-memory price tick store.
func NewPriceTickStore() *PriceTickStore {
	return &PriceTickStore{
		data: make(map[tickKey]*domain.PriceTick),
	}
}

// InsertBulk adds multiple ticks. Intra-batch duplicates fail the batch;
// ticks already stored are skipped.
func (s *PriceTickStore) InsertBulk(_ context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[tickKey]struct{}, len(ticks))
	for _, p := range ticks {
		if p == nil || p.TokenID == "" {
			return storage.ErrInvalidInput
		}
		key := tickKey{p.TokenID, p.Seq}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range ticks {
		key := tickKey{p.TokenID, p.Seq}
		if _, exists := s.data[key]; exists {
			continue
		}
		tickCopy := *p
		s.data[key] = &tickCopy
	}

	return nil
}

// GetByTimeRange retrieves ticks for a token within [start, end] (inclusive), ordered by seq ASC.
func (s *PriceTickStore) GetByTimeRange(_ context.Context, tokenID string, start, end int64) ([]*domain.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceTick
	for _, p := range s.data {
		if p.TokenID == tokenID && p.TimestampMs >= start && p.TimestampMs <= end {
			tickCopy := *p
			result = append(result, &tickCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

var _ storage.PriceTickStore = (*PriceTickStore)(nil)
