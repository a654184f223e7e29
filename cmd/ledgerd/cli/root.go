package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"launchpad-ledger/internal/config"
)

var (
	cfgPath  string
	logLevel string
	cfg      *config.Config

	rootCmd = &cobra.Command{
		Use:           "ledgerd",
		Short:         "Token launch trading, staking and reward ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.New(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			if err := setupLogger(loaded.Log); err != nil {
				return err
			}
			cfg = loaded
			cmd.SetContext(log.Logger.WithContext(cmd.Context()))
			return nil
		},
	}
)

// Execute runs the root command. The context is cancelled on the first
// SIGINT or SIGTERM.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("LEDGER_CONFIG"), "config file (YAML); env and defaults only when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(DistributeCmd())
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(WatchCmd())
	rootCmd.AddCommand(VerifyCmd())

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("ledgerd failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// signalContext cancels on the first signal and exits on a second one, or
// if shutdown has not finished within forceAfter.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	const forceAfter = 45 * time.Second

	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received signal, shutting down gracefully")
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("received second signal, forcing exit")
			os.Exit(1)
		case <-time.After(forceAfter):
			log.Warn().Dur("timeout", forceAfter).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func setupLogger(lc config.LogConfig) error {
	level, err := lc.ZerologLevel()
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	var logger zerolog.Logger
	if lc.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.Level(level).With().Timestamp().Str("service", "ledgerd").Logger()

	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}
