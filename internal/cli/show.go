package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coinfolio/internal/app"
)

var (
	showPair  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent persisted daily rates for a pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showPair == "" {
			return fmt.Errorf("--pair is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Pair:  showPair,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showPair, "pair", "", "Pair to display, e.g. BTC/USD")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
