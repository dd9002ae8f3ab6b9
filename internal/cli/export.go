package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coinfolio/internal/app"
)

var (
	exportPair      string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a pair's daily rate history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportPair == "" {
			return fmt.Errorf("--pair is required")
		}

		opts := app.ExportOptions{
			Pair:      exportPair,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse("2006-01-02", exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse("2006-01-02", exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPair, "pair", "", "Pair to export, e.g. BTC/USD")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End day (YYYY-MM-DD, exclusive; defaults to today)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Write a PNG chart to this path")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Write CSV rows to this path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to export.max_data_points)")
}
