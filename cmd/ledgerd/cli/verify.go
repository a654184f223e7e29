package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"launchpad-ledger/internal/config"
	"launchpad-ledger/internal/verification"
)

var verifyTokenID string

func VerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replays the trade log and reports ledger divergences",
		Long: "Replays every stored trade through the bonding curve and compares the result\n" +
			"with the persisted token aggregates and holdings. Exits non-zero when any\n" +
			"token diverges.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, cleanup, err := createStores(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer cleanup()

			return runVerify(ctx, cfg, st, verifyTokenID, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&verifyTokenID, "token", "", "verify a single token")
	return cmd
}

func runVerify(ctx context.Context, c *config.Config, st *stores, tokenID string, w io.Writer) error {
	curve, err := c.Trading.Curve()
	if err != nil {
		return err
	}
	v := verification.New(verification.Options{
		Store:                  st.ledger,
		Curve:                  curve,
		DecrementHoldingOnSell: c.Trading.DecrementHoldingOnSell,
	})

	var report *verification.Report
	if tokenID != "" {
		res, err := v.VerifyToken(ctx, tokenID)
		if err != nil {
			return err
		}
		report = &verification.Report{TotalTokens: 1, TotalTrades: res.Trades, Results: []verification.TokenResult{*res}}
		if res.Match {
			report.MatchedTokens = 1
		} else {
			report.DivergentTokens = 1
		}
	} else {
		report, err = v.VerifyAll(ctx)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.DivergentTokens > 0 {
		return fmt.Errorf("%d of %d tokens diverged", report.DivergentTokens, report.TotalTokens)
	}
	return nil
}
