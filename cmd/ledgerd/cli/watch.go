package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"launchpad-ledger/internal/feed"
)

func WatchCmd() *cobra.Command {
	var (
		endpoint string
		tokenID  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Streams live trade and distribution events from a running ledgerd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watch(cmd, endpoint, tokenID)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "ws://localhost:8080/feed", "feed websocket endpoint")
	cmd.Flags().StringVar(&tokenID, "token", "", "only stream trades for this token")
	return cmd
}

func watch(cmd *cobra.Command, endpoint, tokenID string) error {
	ctx := cmd.Context()

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if tokenID != "" {
		q := u.Query()
		q.Set("token", tokenID)
		u.RawQuery = q.Encode()
	}

	client, err := feed.Dial(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer client.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
