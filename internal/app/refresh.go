package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"coinfolio/internal/domain"
)

// Refresh fetches the current rate for each requested pair once and
// prints the results. No persistence, no scheduling.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	pairs, err := a.resolvePairs(opts.Pairs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("no pairs requested and no portfolios configured")
	}

	rates, _ := a.newFetchers()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tRate\tObserved (UTC)")

	failures := 0
	for _, pair := range pairs {
		quote, err := rates.FetchCurrentRate(ctx, pair)
		if err != nil {
			failures++
			a.Logger.Error().Err(err).Stringer("pair", pair).Msg("refresh failed")
			fmt.Fprintf(writer, "%s\t-\t-\n", pair)
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", pair, quote.Value.String(), quote.ObservedAt.Format(time.RFC3339))
	}
	writer.Flush()

	if failures > 0 {
		return fmt.Errorf("%d of %d pairs failed to refresh", failures, len(pairs))
	}
	return nil
}

// resolvePairs parses explicit pair arguments, falling back to every
// pair the configured portfolios require.
func (a *App) resolvePairs(args []string) ([]domain.Pair, error) {
	if len(args) > 0 {
		pairs := make([]domain.Pair, 0, len(args))
		for _, arg := range args {
			pair, err := domain.ParsePair(arg)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, pair)
		}
		return pairs, nil
	}

	seen := make(map[domain.Pair]struct{})
	pairs := make([]domain.Pair, 0)
	for _, portfolio := range a.Config.DomainPortfolios() {
		for _, key := range portfolio.RequiredKeys() {
			if key.Kind != domain.KeyPair {
				continue
			}
			if _, ok := seen[key.Pair]; ok {
				continue
			}
			seen[key.Pair] = struct{}{}
			pairs = append(pairs, key.Pair)
		}
	}
	return pairs, nil
}
