package memory

import (
	"context"
	"sort"
	"sync"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/storage"
)

type holdingKey struct {
	userID  string
	tokenID string
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// Units of work stage their writes privately and apply them under the store
// lock at commit, after re-validating every row version they depend on.
type LedgerStore struct {
	mu       sync.RWMutex
	tokens   map[string]*domain.Token
	holdings map[holdingKey]*domain.Holding
	accounts map[string]*domain.StakingAccount
	pool     *domain.PoolConfig
	trades   []*domain.Trade // commit order
	txns     []*domain.Transaction
	tradeIDs map[string]struct{}
	txnIDs   map[string]struct{}
	seq      int64
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		tokens:   make(map[string]*domain.Token),
		holdings: make(map[holdingKey]*domain.Holding),
		accounts: make(map[string]*domain.StakingAccount),
		tradeIDs: make(map[string]struct{}),
		txnIDs:   make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// GetToken retrieves a token by ID. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetToken(_ context.Context, tokenID string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

// ListTokens retrieves all tokens ordered by creation time, then ID.
func (s *LedgerStore) ListTokens(_ context.Context) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		copy := *t
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetHolding retrieves the holding for (user, token). Returns ErrNotFound if not exists.
func (s *LedgerStore) GetHolding(_ context.Context, userID, tokenID string) (*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey{userID, tokenID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *h
	return &copy, nil
}

// ListTradesByToken retrieves all trades for a token in commit order.
func (s *LedgerStore) ListTradesByToken(_ context.Context, tokenID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.trades {
		if t.TokenID == tokenID {
			copy := *t
			result = append(result, &copy)
		}
	}
	return result, nil
}

// GetStakingAccount retrieves a staking account. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetStakingAccount(_ context.Context, userID string) (*domain.StakingAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

// GetPoolConfig retrieves the singleton pool configuration. Returns ErrNotFound if not seeded.
func (s *LedgerStore) GetPoolConfig(_ context.Context) (*domain.PoolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return nil, storage.ErrNotFound
	}
	copy := *s.pool
	return &copy, nil
}

// ListTransactionsByUser retrieves all ledger transactions for a user in commit order.
func (s *LedgerStore) ListTransactionsByUser(_ context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			copy := *t
			result = append(result, &copy)
		}
	}
	return result, nil
}

// InTx runs fn inside one atomic unit of work.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newLedgerTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit validates every staged expectation against committed state and
// applies the whole unit, or nothing.
func (s *LedgerStore) commit(tx *ledgerTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate
	for id, w := range tx.tokens {
		cur, exists := s.tokens[id]
		if w.insert {
			if exists {
				return storage.ErrDuplicateKey
			}
			continue
		}
		if !exists {
			return storage.ErrNotFound
		}
		if cur.Version != w.base {
			return storage.ErrConflict
		}
	}
	for key, w := range tx.holdings {
		if !versionMatches(s.holdingVersion(key), w.base) {
			return storage.ErrConflict
		}
	}
	for id, w := range tx.accounts {
		if !versionMatches(s.accountVersion(id), w.base) {
			return storage.ErrConflict
		}
	}
	if tx.pool != nil {
		var cur int64 = -1
		if s.pool != nil {
			cur = s.pool.Version
		}
		if !versionMatches(cur, tx.pool.base) {
			return storage.ErrConflict
		}
	}

	batchIDs := make(map[string]struct{}, len(tx.trades)+len(tx.txns))
	for _, t := range tx.trades {
		if _, exists := s.tradeIDs[t.copy.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[t.copy.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[t.copy.ID] = struct{}{}
	}
	for _, t := range tx.txns {
		if _, exists := s.txnIDs[t.copy.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[t.copy.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[t.copy.ID] = struct{}{}
	}

	// Second pass: apply
	for id, w := range tx.tokens {
		copy := *w.row
		s.tokens[id] = &copy
	}
	for key, w := range tx.holdings {
		copy := *w.row
		s.holdings[key] = &copy
	}
	for id, w := range tx.accounts {
		copy := *w.row
		s.accounts[id] = &copy
	}
	if tx.pool != nil {
		copy := *tx.pool.row
		s.pool = &copy
	}
	for _, t := range tx.trades {
		s.seq++
		t.copy.Seq = s.seq
		t.src.Seq = s.seq
		s.trades = append(s.trades, t.copy)
		s.tradeIDs[t.copy.ID] = struct{}{}
	}
	for _, t := range tx.txns {
		s.seq++
		t.copy.Seq = s.seq
		t.src.Seq = s.seq
		s.txns = append(s.txns, t.copy)
		s.txnIDs[t.copy.ID] = struct{}{}
	}

	return nil
}

func (s *LedgerStore) holdingVersion(key holdingKey) int64 {
	if h, ok := s.holdings[key]; ok {
		return h.Version
	}
	return 0
}

func (s *LedgerStore) accountVersion(userID string) int64 {
	if a, ok := s.accounts[userID]; ok {
		return a.Version
	}
	return 0
}

// versionMatches reports whether a committed row version satisfies the
// expectation a unit of work was staged against. Base 0 means "must not exist".
func versionMatches(current, base int64) bool {
	if base == 0 {
		return current <= 0
	}
	return current == base
}

// staged is one pending row write. base is the committed version the unit
// first read; row carries the version the row will have after commit.
type staged[T any] struct {
	row    *T
	base   int64
	insert bool
}

type stagedAppend[T any] struct {
	src  *T
	copy *T
}

// ledgerTx is a unit of work over LedgerStore.
type ledgerTx struct {
	store    *LedgerStore
	tokens   map[string]*staged[domain.Token]
	holdings map[holdingKey]*staged[domain.Holding]
	accounts map[string]*staged[domain.StakingAccount]
	pool     *staged[domain.PoolConfig]
	trades   []stagedAppend[domain.Trade]
	txns     []stagedAppend[domain.Transaction]
}

func newLedgerTx(s *LedgerStore) *ledgerTx {
	return &ledgerTx{
		store:    s,
		tokens:   make(map[string]*staged[domain.Token]),
		holdings: make(map[holdingKey]*staged[domain.Holding]),
		accounts: make(map[string]*staged[domain.StakingAccount]),
	}
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

func (tx *ledgerTx) GetToken(ctx context.Context, tokenID string) (*domain.Token, error) {
	if w, ok := tx.tokens[tokenID]; ok {
		copy := *w.row
		return &copy, nil
	}
	return tx.store.GetToken(ctx, tokenID)
}

func (tx *ledgerTx) InsertToken(ctx context.Context, t *domain.Token) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, err := tx.GetToken(ctx, t.ID); err == nil {
		return storage.ErrDuplicateKey
	}

	copy := *t
	copy.Version = 1
	t.Version = 1
	tx.tokens[t.ID] = &staged[domain.Token]{row: &copy, insert: true}
	return nil
}

func (tx *ledgerTx) UpdateToken(ctx context.Context, t *domain.Token, expectedVersion int64) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	cur, err := tx.GetToken(ctx, t.ID)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return storage.ErrConflict
	}

	copy := *t
	copy.Version = expectedVersion + 1
	t.Version = copy.Version
	if w, ok := tx.tokens[t.ID]; ok {
		w.row = &copy
		return nil
	}
	tx.tokens[t.ID] = &staged[domain.Token]{row: &copy, base: expectedVersion}
	return nil
}

func (tx *ledgerTx) GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error) {
	if w, ok := tx.holdings[holdingKey{userID, tokenID}]; ok {
		copy := *w.row
		return &copy, nil
	}
	return tx.store.GetHolding(ctx, userID, tokenID)
}

func (tx *ledgerTx) UpsertHolding(ctx context.Context, h *domain.Holding, expectedVersion int64) error {
	if h == nil || h.UserID == "" || h.TokenID == "" {
		return storage.ErrInvalidInput
	}
	key := holdingKey{h.UserID, h.TokenID}

	var current int64
	if cur, err := tx.GetHolding(ctx, h.UserID, h.TokenID); err == nil {
		current = cur.Version
	}
	if current != expectedVersion {
		return storage.ErrConflict
	}

	copy := *h
	copy.Version = expectedVersion + 1
	h.Version = copy.Version
	if w, ok := tx.holdings[key]; ok {
		w.row = &copy
		return nil
	}
	tx.holdings[key] = &staged[domain.Holding]{row: &copy, base: expectedVersion}
	return nil
}

func (tx *ledgerTx) InsertTrade(_ context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	copy := *t
	tx.trades = append(tx.trades, stagedAppend[domain.Trade]{src: t, copy: &copy})
	return nil
}

func (tx *ledgerTx) GetStakingAccount(ctx context.Context, userID string) (*domain.StakingAccount, error) {
	if w, ok := tx.accounts[userID]; ok {
		copy := *w.row
		return &copy, nil
	}
	return tx.store.GetStakingAccount(ctx, userID)
}

func (tx *ledgerTx) UpsertStakingAccount(ctx context.Context, a *domain.StakingAccount, expectedVersion int64) error {
	if a == nil || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	var current int64
	if cur, err := tx.GetStakingAccount(ctx, a.UserID); err == nil {
		current = cur.Version
	}
	if current != expectedVersion {
		return storage.ErrConflict
	}

	copy := *a
	copy.Version = expectedVersion + 1
	a.Version = copy.Version
	if w, ok := tx.accounts[a.UserID]; ok {
		w.row = &copy
		return nil
	}
	tx.accounts[a.UserID] = &staged[domain.StakingAccount]{row: &copy, base: expectedVersion}
	return nil
}

func (tx *ledgerTx) ListActiveStakers(_ context.Context) ([]*domain.StakingAccount, error) {
	merged := make(map[string]*domain.StakingAccount)

	tx.store.mu.RLock()
	for id, a := range tx.store.accounts {
		copy := *a
		merged[id] = &copy
	}
	tx.store.mu.RUnlock()

	for id, w := range tx.accounts {
		copy := *w.row
		merged[id] = &copy
	}

	var result []*domain.StakingAccount
	for _, a := range merged {
		if a.StakedAmount.IsPositive() {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func (tx *ledgerTx) GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error) {
	if tx.pool != nil {
		copy := *tx.pool.row
		return &copy, nil
	}
	return tx.store.GetPoolConfig(ctx)
}

func (tx *ledgerTx) UpdatePoolConfig(ctx context.Context, p *domain.PoolConfig, expectedVersion int64) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	var current int64
	if cur, err := tx.GetPoolConfig(ctx); err == nil {
		current = cur.Version
	}
	if current != expectedVersion {
		return storage.ErrConflict
	}

	copy := *p
	copy.Version = expectedVersion + 1
	p.Version = copy.Version
	if tx.pool != nil {
		tx.pool.row = &copy
		return nil
	}
	tx.pool = &staged[domain.PoolConfig]{row: &copy, base: expectedVersion}
	return nil
}

func (tx *ledgerTx) InsertTransaction(_ context.Context, t *domain.Transaction) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	copy := *t
	tx.txns = append(tx.txns, stagedAppend[domain.Transaction]{src: t, copy: &copy})
	return nil
}
