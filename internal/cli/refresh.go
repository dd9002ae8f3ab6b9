package cli

import (
	"github.com/spf13/cobra"

	"coinfolio/internal/app"
)

var refreshPairs []string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch current rates once and print them",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RefreshOptions{
			Pairs: refreshPairs,
		}
		return getApp().Refresh(cmd.Context(), opts)
	},
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshPairs, "pair", nil, "Pair to refresh, e.g. BTC/USD (repeatable; defaults to configured portfolios)")
}
