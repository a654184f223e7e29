package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"launchpad-ledger/internal/analytics"
	"launchpad-ledger/internal/api"
	"launchpad-ledger/internal/feed"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/rewards"
	"launchpad-ledger/internal/trading"
)

func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, live feed, analytics mirror and reward scheduler",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := log.Ctx(ctx)

	st, cleanup, err := createStores(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer cleanup()

	mirror := analytics.NewMirror(st.ticks, analytics.Config{
		BatchSize:     cfg.Analytics.BatchSize,
		FlushInterval: cfg.Analytics.FlushInterval,
		QueueSize:     cfg.Analytics.QueueSize,
	})
	tradeObs := []trading.Observer{mirror}
	var rewardObs []rewards.Observer

	var hub *feed.Hub
	if cfg.Feed.Enabled {
		hub = feed.NewHub(feed.HubConfig{
			WriteTimeout:   cfg.Feed.WriteTimeout,
			PingInterval:   cfg.Feed.PingInterval,
			SendBuffer:     cfg.Feed.SendBuffer,
			AllowedOrigins: cfg.Feed.AllowedOrigins,
		})
		tradeObs = append(tradeObs, hub)
		rewardObs = append(rewardObs, hub)
	}

	comps, err := newComponents(cfg, st, tradeObs, rewardObs)
	if err != nil {
		return err
	}

	apiCfg := api.Config{
		Trading: comps.trading,
		Staking: comps.staking,
		Rewards: comps.rewards,
		Ticks:   st.ticks,
		Metrics: observability.Handler(),
		Logger:  *logger,
	}
	if hub != nil {
		apiCfg.Feed = hub
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(apiCfg).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// In-flight requests keep the logger but outlive the signal.
	srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	// Background workers stop on runCtx; the mirror drains after the API
	// has stopped accepting trades.
	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mirror.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("analytics mirror stopped")
		}
	}()

	if cfg.Rewards.Enabled {
		scheduler := rewards.NewScheduler(comps.rewards, cfg.Rewards.Interval, cfg.Rewards.RunOnStart)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Start(runCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if hub != nil {
		hub.Close()
	}
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("HTTP server shutdown incomplete")
	}

	stopWorkers()
	wg.Wait()

	logger.Info().
		Uint64("ticks_mirrored", mirror.Written()).
		Uint64("ticks_dropped", mirror.Dropped()).
		Msg("shutdown complete")
	return err
}
