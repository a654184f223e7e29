package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"launchpad-ledger/internal/rewards"
)

func DistributeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distribute",
		Short: "Runs a single reward distribution tick and prints the result",
		Long: "Runs one distribution tick against the configured store. A tick within the\n" +
			"configured interval of the last distribution is skipped without writing.",
		Args: cobra.NoArgs,
		RunE: distribute,
	}
}

type tickOutput struct {
	Outcome       rewards.Outcome `json:"outcome"`
	Reason        string          `json:"reason,omitempty"`
	DistributedAt string          `json:"distributed_at"`
	Total         string          `json:"total"`
	PoolAfter     string          `json:"pool_after"`
	Stakers       int             `json:"stakers"`
}

func distribute(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, cleanup, err := createStores(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer cleanup()

	comps, err := newComponents(cfg, st, nil, nil)
	if err != nil {
		return err
	}

	res, tickErr := comps.rewards.RunDistributionTick(ctx)
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tickOutput{
			Outcome:       res.Outcome,
			Reason:        res.Reason,
			DistributedAt: res.DistributedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Total:         res.Total.String(),
			PoolAfter:     res.PoolAfter.String(),
			Stakers:       len(res.Credits),
		}); err != nil {
			return err
		}
	}
	return tickErr
}
