package rewards

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TickRunner runs one distribution tick.
type TickRunner interface {
	RunDistributionTick(ctx context.Context) (*TickResult, error)
}

// Scheduler fires distribution ticks on a fixed interval. Tick failures are
// logged and the next tick still fires; only context cancellation stops it.
type Scheduler struct {
	runner    TickRunner
	interval  time.Duration
	immediate bool
	quit      chan struct{}
}

// NewScheduler creates a scheduler. When immediate is set the first tick
// runs on Start instead of one interval later.
func NewScheduler(runner TickRunner, interval time.Duration, immediate bool) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:    runner,
		interval:  interval,
		immediate: immediate,
		quit:      make(chan struct{}),
	}
}

// Start blocks, running ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := log.Ctx(ctx).With().Str("component", "scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting distribution scheduler")

	if s.immediate {
		s.tick(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			logger.Info().Msg("distribution scheduler stopped due to context cancellation")
			return
		case <-s.quit:
			logger.Info().Msg("distribution scheduler stopped")
			return
		}
	}
}

// Stop ends Start. It must be called at most once.
func (s *Scheduler) Stop() {
	close(s.quit)
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Str("component", "scheduler").
				Interface("panic", r).
				Msg("distribution tick panicked")
		}
	}()

	// The distributor logs and records the outcome itself.
	if _, err := s.runner.RunDistributionTick(ctx); err != nil {
		log.Ctx(ctx).Debug().
			Str("component", "scheduler").
			Err(err).
			Msg("distribution tick returned error, waiting for next interval")
	}
}
