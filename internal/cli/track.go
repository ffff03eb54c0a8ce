package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"call-price-tracker/internal/app"
)

var (
	trackNetwork  string
	trackAddress  string
	trackCalledAt string
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record a call for tracking",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trackNetwork == "" || trackAddress == "" {
			return fmt.Errorf("--network and --address must be provided")
		}

		opts := app.TrackOptions{
			Network: trackNetwork,
			Address: trackAddress,
		}

		if trackCalledAt != "" {
			calledAt, err := time.Parse(time.RFC3339, trackCalledAt)
			if err != nil {
				return fmt.Errorf("invalid --called-at value: %w", err)
			}
			opts.CalledAt = calledAt
		}

		return getApp().Track(cmd.Context(), opts)
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackNetwork, "network", "", "Network the token lives on (e.g. ethereum, solana)")
	trackCmd.Flags().StringVar(&trackAddress, "address", "", "Token contract or mint address")
	trackCmd.Flags().StringVar(&trackCalledAt, "called-at", "", "Call timestamp (RFC3339, defaults to now)")
}
