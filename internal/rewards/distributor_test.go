package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/idhash"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/storage"
	"launchpad-ledger/internal/storage/memory"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

func seed(t *testing.T, store storage.LedgerStore, pool *domain.PoolConfig, accounts ...*domain.StakingAccount) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(tx storage.LedgerTx) error {
		if pool != nil {
			if err := tx.UpdatePoolConfig(ctx, pool, 0); err != nil {
				return err
			}
		}
		for _, a := range accounts {
			if err := tx.UpsertStakingAccount(ctx, a, 0); err != nil {
				return err
			}
		}
		return nil
	}))
}

func newTestDistributor(store storage.LedgerStore, clock *fakeClock, observers ...Observer) *Distributor {
	return New(Options{
		Store:     store,
		Config:    Config{Interval: 5 * time.Minute},
		Observers: observers,
		Now:       clock.Now,
	})
}

func TestReward(t *testing.T) {
	tests := []struct {
		name     string
		staked   string
		apr      string
		interval time.Duration
		want     decimal.Decimal
	}{
		{"five minutes at 150%", "5000", "150", 5 * time.Minute, d("37500").DivRound(d("525600"), 18)},
		{"one year at 10%", "1000", "10", MinutesPerYear * time.Minute, d("100")},
		{"zero apr", "1000", "0", 5 * time.Minute, decimal.Zero},
		{"zero stake", "0", "150", 5 * time.Minute, decimal.Zero},
		{"sub-second interval", "31536000", "100", 500 * time.Millisecond, d("0.5")},
		{"fractional seconds", "31536000", "100", 1500 * time.Millisecond, d("1.5")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reward(d(tt.staked), d(tt.apr), tt.interval)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestRunDistributionTick_CreditsStaker(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("1000000"), APRRate: d("150")},
		&domain.StakingAccount{UserID: "alice", WalletAddress: "w-alice", StakedAmount: d("5000")},
	)
	clock := newFakeClock()
	dist := newTestDistributor(store, clock)
	ctx := context.Background()

	res, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, res.Outcome)

	want := d("5000").Mul(d("1.5")).Mul(d("5")).DivRound(d("525600"), 18)
	assert.True(t, res.Total.Equal(want), "total %s", res.Total)
	require.Len(t, res.Credits, 1)
	assert.Equal(t, idhash.ComputeRewardTxID("alice", clock.Now().UnixMilli()), res.Credits[0].TransactionID)

	acct, err := store.GetStakingAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.ClaimableRewards.Equal(want))
	assert.True(t, acct.StakedAmount.Equal(d("5000")))

	pool, err := store.GetPoolConfig(ctx)
	require.NoError(t, err)
	assert.True(t, pool.TotalPoolSize.Equal(d("1000000").Sub(want)))
	assert.True(t, pool.LastRewardDistribution.Equal(clock.Now()))

	txns, err := store.ListTransactionsByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionReward, txns[0].Type)
	assert.Equal(t, "w-alice", txns[0].WalletAddress)
	assert.True(t, txns[0].Amount.Equal(want))

	assert.Equal(t, StateIdle, dist.State())
}

func TestRunDistributionTick_PoolDepletedWritesNothing(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("0.01"), APRRate: d("150")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("5000")},
		&domain.StakingAccount{UserID: "bob", StakedAmount: d("5000")},
	)
	dist := newTestDistributor(store, newFakeClock())
	ctx := context.Background()

	res, err := dist.RunDistributionTick(ctx)
	assert.ErrorIs(t, err, ledger.ErrPoolDepleted)
	require.NotNil(t, res)
	assert.Equal(t, OutcomePoolDepleted, res.Outcome)
	assert.True(t, res.Total.GreaterThan(d("0.01")))

	pool, _ := store.GetPoolConfig(ctx)
	assert.True(t, pool.TotalPoolSize.Equal(d("0.01")))
	assert.True(t, pool.LastRewardDistribution.IsZero())
	for _, u := range []string{"alice", "bob"} {
		acct, _ := store.GetStakingAccount(ctx, u)
		assert.True(t, acct.ClaimableRewards.IsZero(), u)
		txns, _ := store.ListTransactionsByUser(ctx, u)
		assert.Empty(t, txns, u)
	}
}

func TestRunDistributionTick_SecondCallWithinIntervalSkips(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
	)
	clock := newFakeClock()
	dist := newTestDistributor(store, clock)
	ctx := context.Background()

	first, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, first.Outcome)

	clock.Advance(time.Minute)
	second, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.NotEmpty(t, second.Reason)

	acct, _ := store.GetStakingAccount(ctx, "alice")
	assert.True(t, acct.ClaimableRewards.Equal(first.Total), "replay must not credit twice")

	clock.Advance(4 * time.Minute)
	third, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, third.Outcome)

	acct, _ = store.GetStakingAccount(ctx, "alice")
	assert.True(t, acct.ClaimableRewards.Equal(first.Total.Add(third.Total)))
}

func TestRunDistributionTick_SlackAbsorbsJitter(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
	)
	clock := newFakeClock()
	dist := New(Options{
		Store:  store,
		Config: Config{Interval: 5 * time.Minute, Slack: 30 * time.Second},
		Now:    clock.Now,
	})
	ctx := context.Background()

	_, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)

	clock.Advance(5*time.Minute - 200*time.Millisecond)
	res, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
}

func TestRunDistributionTick_ConservesValue(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("250"), APRRate: d("87.5")},
		&domain.StakingAccount{UserID: "a", StakedAmount: d("1234.5678")},
		&domain.StakingAccount{UserID: "b", StakedAmount: d("0.000001")},
		&domain.StakingAccount{UserID: "c", StakedAmount: d("99999")},
		&domain.StakingAccount{UserID: "d", StakedAmount: decimal.Zero},
	)
	clock := newFakeClock()
	dist := newTestDistributor(store, clock)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, err := dist.RunDistributionTick(ctx)
		require.NoError(t, err)
		require.Equal(t, OutcomeCommitted, res.Outcome)
		clock.Advance(5 * time.Minute)
	}

	pool, err := store.GetPoolConfig(ctx)
	require.NoError(t, err)
	credited := decimal.Zero
	for _, u := range []string{"a", "b", "c", "d"} {
		acct, err := store.GetStakingAccount(ctx, u)
		require.NoError(t, err)
		credited = credited.Add(acct.ClaimableRewards)
	}
	assert.True(t, pool.TotalPoolSize.Add(credited).Equal(d("250")),
		"pool %s + credited %s", pool.TotalPoolSize, credited)
	assert.False(t, pool.TotalPoolSize.IsNegative())

	txns, _ := store.ListTransactionsByUser(ctx, "d")
	assert.Empty(t, txns, "unstaked account gets no reward rows")
}

func TestRunDistributionTick_NoPoolSkips(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store, nil, &domain.StakingAccount{UserID: "alice", StakedAmount: d("10")})
	dist := newTestDistributor(store, newFakeClock())

	res, err := dist.RunDistributionTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestRunDistributionTick_NoStakersAdvancesClock(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store, &domain.PoolConfig{TotalPoolSize: d("10"), APRRate: d("100")})
	clock := newFakeClock()
	dist := newTestDistributor(store, clock)
	ctx := context.Background()

	res, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.True(t, res.Total.IsZero())

	pool, _ := store.GetPoolConfig(ctx)
	assert.True(t, pool.TotalPoolSize.Equal(d("10")))
	assert.True(t, pool.LastRewardDistribution.Equal(clock.Now()))
}

func TestRunDistributionTick_TwoDistributorsSameInstant(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
	)
	clock := newFakeClock()
	a := newTestDistributor(store, clock)
	b := newTestDistributor(store, clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*TickResult, 2)
	for i, dist := range []*Distributor{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := dist.RunDistributionTick(ctx)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	committed := 0
	for _, r := range results {
		if r.Outcome == OutcomeCommitted {
			committed++
		}
	}
	assert.Equal(t, 1, committed)

	txns, _ := store.ListTransactionsByUser(ctx, "alice")
	assert.Len(t, txns, 1)
}

// blockingStore parks the first unit of work inside its pool read until released.
type blockingStore struct {
	storage.LedgerStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	return s.LedgerStore.InTx(ctx, func(tx storage.LedgerTx) error {
		return fn(&blockingTx{LedgerTx: tx, s: s})
	})
}

type blockingTx struct {
	storage.LedgerTx
	s *blockingStore
}

func (t *blockingTx) GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error) {
	first := false
	t.s.once.Do(func() {
		first = true
		close(t.s.entered)
	})
	if first {
		<-t.s.release
	}
	return t.LedgerTx.GetPoolConfig(ctx)
}

func TestRunDistributionTick_OverlappingCallSkips(t *testing.T) {
	base := memory.NewLedgerStore()
	seed(t, base,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
	)
	store := &blockingStore{LedgerStore: base, entered: make(chan struct{}), release: make(chan struct{})}
	dist := newTestDistributor(store, newFakeClock())
	ctx := context.Background()

	done := make(chan *TickResult)
	go func() {
		res, err := dist.RunDistributionTick(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	<-store.entered
	assert.Equal(t, StateComputing, dist.State())

	overlap, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, overlap.Outcome)
	assert.Equal(t, "tick already running", overlap.Reason)

	close(store.release)
	first := <-done
	assert.Equal(t, OutcomeCommitted, first.Outcome)
	assert.Equal(t, StateIdle, dist.State())
}

// failingStore fails every reward transaction insert.
type failingStore struct {
	storage.LedgerStore
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	return s.LedgerStore.InTx(ctx, func(tx storage.LedgerTx) error {
		return fn(&failingTx{LedgerTx: tx})
	})
}

type failingTx struct {
	storage.LedgerTx
}

func (t *failingTx) InsertTransaction(context.Context, *domain.Transaction) error {
	return errors.New("connection reset")
}

func TestRunDistributionTick_StoreFailureRollsBack(t *testing.T) {
	base := memory.NewLedgerStore()
	seed(t, base,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
		&domain.StakingAccount{UserID: "bob", StakedAmount: d("100")},
	)
	dist := newTestDistributor(&failingStore{LedgerStore: base}, newFakeClock())
	ctx := context.Background()

	res, err := dist.RunDistributionTick(ctx)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	pool, _ := base.GetPoolConfig(ctx)
	assert.True(t, pool.TotalPoolSize.Equal(d("1000")))
	for _, u := range []string{"alice", "bob"} {
		acct, _ := base.GetStakingAccount(ctx, u)
		assert.True(t, acct.ClaimableRewards.IsZero(), u)
	}
}

func TestRunDistributionTick_ObserverOnlyOnCommit(t *testing.T) {
	store := memory.NewLedgerStore()
	seed(t, store,
		&domain.PoolConfig{TotalPoolSize: d("1000"), APRRate: d("100")},
		&domain.StakingAccount{UserID: "alice", StakedAmount: d("100")},
	)
	var seen []*TickResult
	obs := ObserverFunc(func(_ context.Context, r *TickResult) { seen = append(seen, r) })
	dist := newTestDistributor(store, newFakeClock(), obs)
	ctx := context.Background()

	_, err := dist.RunDistributionTick(ctx)
	require.NoError(t, err)
	_, err = dist.RunDistributionTick(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, OutcomeCommitted, seen[0].Outcome)
}

func TestFundPoolAndSetAPR(t *testing.T) {
	store := memory.NewLedgerStore()
	dist := newTestDistributor(store, newFakeClock())
	ctx := context.Background()

	_, err := dist.GetPool(ctx)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	pool, err := dist.FundPool(ctx, d("500"))
	require.NoError(t, err)
	assert.True(t, pool.TotalPoolSize.Equal(d("500")))

	pool, err = dist.FundPool(ctx, d("250.5"))
	require.NoError(t, err)
	assert.True(t, pool.TotalPoolSize.Equal(d("750.5")))

	pool, err = dist.SetAPR(ctx, d("150"))
	require.NoError(t, err)
	assert.True(t, pool.APRRate.Equal(d("150")))
	assert.True(t, pool.TotalPoolSize.Equal(d("750.5")))

	_, err = dist.FundPool(ctx, d("0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = dist.SetAPR(ctx, d("-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	got, err := dist.GetPool(ctx)
	require.NoError(t, err)
	assert.True(t, got.TotalPoolSize.Equal(d("750.5")))
}
