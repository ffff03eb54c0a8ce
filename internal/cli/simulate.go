package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset   string
	simulateEntry   float64
	simulateATH     float64
	simulateCurrent float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic new-ATH notification through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateEntry <= 0 || simulateATH <= 0 || simulateCurrent <= 0 {
			return errors.New("--entry, --ath, and --current must be greater than 0")
		}
		if simulateAsset == "" {
			return errors.New("--asset must be provided")
		}

		entry := decimal.NewFromFloat(simulateEntry)
		ath := decimal.NewFromFloat(simulateATH)
		current := decimal.NewFromFloat(simulateCurrent)
		return getApp().SimulateAlert(cmd.Context(), simulateAsset, entry, ath, current)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "Asset id (network:address)")
	simulateCmd.Flags().Float64Var(&simulateEntry, "entry", 0, "Price at call in USD")
	simulateCmd.Flags().Float64Var(&simulateATH, "ath", 0, "All-time-high price in USD")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current price in USD")
}
