package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"coinfolio/internal/domain"
)

// Show prints the most recent persisted daily rates for a pair.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	pair, err := domain.ParsePair(opts.Pair)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentRateRecords(ctx, pair, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	total, err := store.CountRateRecords(ctx, pair)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Day (UTC)\tRate")
	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\n", record.Day.Format("2006-01-02"), record.Value.String())
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "%d of %d records for %s\n", len(records), total, pair)
	return nil
}
