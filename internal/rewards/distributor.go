// Package rewards credits stakers from the shared reward pool on a fixed interval.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/idhash"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/storage"
)

// Distribution defaults.
const (
	DefaultInterval = 5 * time.Minute
	MinutesPerYear  = 525600

	// rewardScale is the number of decimal places kept per staker reward.
	rewardScale = 18
)

var (
	hundred           = decimal.NewFromInt(100)
	nanosPerYear      = decimal.NewFromInt(int64(MinutesPerYear * time.Minute))
	rewardDenominator = hundred.Mul(nanosPerYear)
)

// State is the distributor's position in its tick cycle.
type State int32

// States
const (
	StateIdle State = iota
	StateComputing
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputing:
		return "computing"
	case StateCommitting:
		return "committing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome classifies a finished tick.
type Outcome string

// Tick outcomes
const (
	OutcomeCommitted    Outcome = "committed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomePoolDepleted Outcome = "pool_depleted"
	OutcomeFailed       Outcome = "failed"
)

// Credit is one staker's share of a committed tick.
type Credit struct {
	UserID        string
	Staked        decimal.Decimal
	Reward        decimal.Decimal
	TransactionID string
}

// TickResult describes one call to RunDistributionTick.
type TickResult struct {
	Outcome       Outcome
	Reason        string // set for skipped ticks
	DistributedAt time.Time
	Total         decimal.Decimal // sum of rewards, computed even when rejected
	PoolBefore    decimal.Decimal
	PoolAfter     decimal.Decimal
	Credits       []Credit
}

// Observer receives every committed tick.
type Observer interface {
	OnDistribution(ctx context.Context, result *TickResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result *TickResult)

func (f ObserverFunc) OnDistribution(ctx context.Context, result *TickResult) { f(ctx, result) }

// Config controls distribution.
type Config struct {
	// Interval is both the reward accrual period and the minimum spacing
	// between committed ticks.
	Interval time.Duration

	// Slack absorbs timer jitter in the interval check. A tick is skipped
	// when less than Interval-Slack has passed since the last distribution.
	Slack time.Duration

	ConflictAttempts uint
}

// DefaultConfig returns the default distribution configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         DefaultInterval,
		Slack:            DefaultInterval / 10,
		ConflictAttempts: ledger.DefaultConflictAttempts,
	}
}

// Options for creating Distributor.
type Options struct {
	Store     storage.LedgerStore
	Config    Config
	Observers []Observer
	Now       func() time.Time
}

// Distributor runs reward distribution ticks. At most one tick runs at a
// time per Distributor.
type Distributor struct {
	store     storage.LedgerStore
	cfg       Config
	observers []Observer
	now       func() time.Time

	running sync.Mutex
	state   atomic.Int32
}

// New creates a new Distributor.
func New(opts Options) *Distributor {
	d := &Distributor{
		store:     opts.Store,
		cfg:       opts.Config,
		observers: opts.Observers,
		now:       opts.Now,
	}
	if d.cfg.Interval <= 0 {
		d.cfg.Interval = DefaultInterval
	}
	if d.cfg.Slack < 0 || d.cfg.Slack >= d.cfg.Interval {
		d.cfg.Slack = 0
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// State returns the current tick state.
func (d *Distributor) State() State {
	return State(d.state.Load())
}

// Interval returns the configured distribution interval.
func (d *Distributor) Interval() time.Duration {
	return d.cfg.Interval
}

// Reward returns one interval's reward for staked at aprRate percent:
// staked * (apr/100) * interval_minutes / minutes_per_year.
func Reward(staked, aprRate decimal.Decimal, interval time.Duration) decimal.Decimal {
	elapsed := decimal.NewFromInt(int64(interval))
	return staked.Mul(aprRate).Mul(elapsed).DivRound(rewardDenominator, rewardScale)
}

// RunDistributionTick distributes one interval of rewards to every active
// staker in a single unit of work. It is safe to call repeatedly: a call
// made before the interval has elapsed, or while another tick is running,
// returns a skipped result without writing anything.
func (d *Distributor) RunDistributionTick(ctx context.Context) (*TickResult, error) {
	const op = "rewards.RunDistributionTick"

	if !d.running.TryLock() {
		observability.RecordDistributionTick(string(OutcomeSkipped), 0)
		log.Ctx(ctx).Info().
			Str("component", "rewards").
			Msg("distribution tick already running, skipping")
		return &TickResult{Outcome: OutcomeSkipped, Reason: "tick already running"}, nil
	}
	defer d.running.Unlock()
	defer d.state.Store(int32(StateIdle))

	start := time.Now()
	now := d.now()

	var result *TickResult
	err := ledger.RetryOnConflict(ctx, op, d.cfg.ConflictAttempts, func() error {
		var unitErr error
		result, unitErr = d.runUnit(ctx, op, now)
		return unitErr
	}, nil)

	if err != nil {
		err = ledger.FromStorage(op, err)
		if result == nil {
			result = &TickResult{DistributedAt: now}
		}
		result.Outcome = OutcomeFailed
		if ledger.KindOf(err) == ledger.KindPoolDepleted {
			result.Outcome = OutcomePoolDepleted
		}
	}
	d.report(ctx, result, time.Since(start), err)
	return result, err
}

func (d *Distributor) runUnit(ctx context.Context, op string, now time.Time) (*TickResult, error) {
	var result *TickResult
	err := d.store.InTx(ctx, func(tx storage.LedgerTx) error {
		d.state.Store(int32(StateComputing))
		result = nil

		pool, err := tx.GetPoolConfig(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				result = &TickResult{Outcome: OutcomeSkipped, Reason: "reward pool not configured", DistributedAt: now}
				return nil
			}
			return ledger.FromStorage(op, err)
		}

		if !pool.LastRewardDistribution.IsZero() {
			if elapsed := now.Sub(pool.LastRewardDistribution); elapsed < d.cfg.Interval-d.cfg.Slack {
				result = &TickResult{
					Outcome:       OutcomeSkipped,
					Reason:        fmt.Sprintf("interval not elapsed (%s since last distribution)", elapsed.Truncate(time.Millisecond)),
					DistributedAt: now,
					PoolBefore:    pool.TotalPoolSize,
					PoolAfter:     pool.TotalPoolSize,
				}
				return nil
			}
		}

		stakers, err := tx.ListActiveStakers(ctx)
		if err != nil {
			return ledger.FromStorage(op, err)
		}

		res := &TickResult{DistributedAt: now, PoolBefore: pool.TotalPoolSize, Total: decimal.Zero}
		for _, s := range stakers {
			reward := Reward(s.StakedAmount, pool.APRRate, d.cfg.Interval)
			if !reward.IsPositive() {
				continue
			}
			res.Total = res.Total.Add(reward)
			res.Credits = append(res.Credits, Credit{
				UserID:        s.UserID,
				Staked:        s.StakedAmount,
				Reward:        reward,
				TransactionID: idhash.ComputeRewardTxID(s.UserID, now.UnixMilli()),
			})
		}
		result = res

		if res.Total.GreaterThan(pool.TotalPoolSize) {
			res.PoolAfter = pool.TotalPoolSize
			return ledger.Errorf(ledger.KindPoolDepleted, op,
				"distribution %s exceeds pool %s", res.Total, pool.TotalPoolSize)
		}

		d.state.Store(int32(StateCommitting))

		byUser := make(map[string]*domain.StakingAccount, len(stakers))
		for _, s := range stakers {
			byUser[s.UserID] = s
		}
		for _, c := range res.Credits {
			acct := byUser[c.UserID]
			version := acct.Version
			acct.ClaimableRewards = acct.ClaimableRewards.Add(c.Reward)
			acct.UpdatedAt = now
			if err := tx.UpsertStakingAccount(ctx, acct, version); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID:            c.TransactionID,
				UserID:        acct.UserID,
				WalletAddress: acct.WalletAddress,
				Type:          domain.TransactionReward,
				Amount:        c.Reward,
				CreatedAt:     now,
			}); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					// Another process already distributed at this instant.
					return fmt.Errorf("reward %s already recorded: %w", c.TransactionID, storage.ErrConflict)
				}
				return err
			}
		}

		version := pool.Version
		pool.TotalPoolSize = pool.TotalPoolSize.Sub(res.Total)
		pool.LastRewardDistribution = now
		if err := tx.UpdatePoolConfig(ctx, pool, version); err != nil {
			return err
		}

		res.Outcome = OutcomeCommitted
		res.PoolAfter = pool.TotalPoolSize
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (d *Distributor) report(ctx context.Context, result *TickResult, elapsed time.Duration, err error) {
	observability.RecordDistributionTick(string(result.Outcome), elapsed.Seconds())
	logger := log.Ctx(ctx).With().Str("component", "rewards").Logger()

	switch result.Outcome {
	case OutcomeCommitted:
		observability.RecordDistributionCommitted(result.Total.InexactFloat64(), result.PoolAfter.InexactFloat64(),
			len(result.Credits), result.DistributedAt.Unix())
		logger.Info().
			Int("stakers", len(result.Credits)).
			Str("total", result.Total.String()).
			Str("pool_after", result.PoolAfter.String()).
			Dur("elapsed", elapsed).
			Msg("distribution tick committed")
		for _, o := range d.observers {
			o.OnDistribution(ctx, result)
		}
	case OutcomeSkipped:
		logger.Debug().Str("reason", result.Reason).Msg("distribution tick skipped")
	case OutcomePoolDepleted:
		logger.Warn().
			Str("total", result.Total.String()).
			Str("pool", result.PoolBefore.String()).
			Msg("distribution tick rejected, pool depleted")
	default:
		logger.Error().
			Str("kind", string(ledger.KindOf(err))).
			Err(err).
			Msg("distribution tick failed")
	}
}

// FundPool adds amount to the reward pool, seeding the pool if needed.
func (d *Distributor) FundPool(ctx context.Context, amount decimal.Decimal) (*domain.PoolConfig, error) {
	const op = "rewards.FundPool"
	if !amount.IsPositive() {
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op, "amount must be positive")
	}
	return d.updatePool(ctx, op, func(p *domain.PoolConfig) {
		p.TotalPoolSize = p.TotalPoolSize.Add(amount)
	})
}

// SetAPR sets the pool's annual percentage rate.
func (d *Distributor) SetAPR(ctx context.Context, rate decimal.Decimal) (*domain.PoolConfig, error) {
	const op = "rewards.SetAPR"
	if rate.IsNegative() {
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op, "apr rate must not be negative")
	}
	return d.updatePool(ctx, op, func(p *domain.PoolConfig) {
		p.APRRate = rate
	})
}

// GetPool returns the committed pool configuration.
func (d *Distributor) GetPool(ctx context.Context) (*domain.PoolConfig, error) {
	p, err := d.store.GetPoolConfig(ctx)
	if err != nil {
		return nil, ledger.FromStorage("rewards.GetPool", err)
	}
	return p, nil
}

func (d *Distributor) updatePool(ctx context.Context, op string, mutate func(*domain.PoolConfig)) (*domain.PoolConfig, error) {
	var out *domain.PoolConfig
	err := ledger.RetryOnConflict(ctx, op, d.cfg.ConflictAttempts, func() error {
		return d.store.InTx(ctx, func(tx storage.LedgerTx) error {
			pool, err := tx.GetPoolConfig(ctx)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				pool = &domain.PoolConfig{}
			}
			version := pool.Version
			mutate(pool)
			if err := tx.UpdatePoolConfig(ctx, pool, version); err != nil {
				return err
			}
			out = pool
			return nil
		})
	}, nil)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}

	log.Ctx(ctx).Info().
		Str("component", "rewards").
		Str("op", op).
		Str("pool", out.TotalPoolSize.String()).
		Str("apr", out.APRRate.String()).
		Msg("pool configuration updated")
	return out, nil
}
