package cli

import (
	"github.com/spf13/cobra"

	"call-price-tracker/internal/app"
)

var (
	refreshForce bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run a single resolution cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RefreshOptions{
			Force: refreshForce,
		}
		return getApp().Refresh(cmd.Context(), opts)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Resolve every call even if its cache entry is fresh")
}
