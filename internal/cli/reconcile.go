package cli

import (
	"github.com/spf13/cobra"

	"coinfolio/internal/app"
)

var (
	reconcilePairs []string
	reconcileDays  int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fill missing daily rate history for pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReconcileOptions{
			Pairs: reconcilePairs,
			Days:  reconcileDays,
		}
		return getApp().Reconcile(cmd.Context(), opts)
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcilePairs, "pair", nil, "Pair to reconcile, e.g. BTC/USD (repeatable; defaults to configured portfolios)")
	reconcileCmd.Flags().IntVar(&reconcileDays, "days", 0, "History horizon in days when no records exist yet (defaults to rates.history_days)")
}
