package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinfolio/internal/reconcile"
)

// Reconcile runs one history reconciliation per requested pair,
// filling every missing UTC day up to yesterday.
func (a *App) Reconcile(ctx context.Context, opts ReconcileOptions) error {
	pairs, err := a.resolvePairs(opts.Pairs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("no pairs requested and no portfolios configured")
	}

	days := opts.Days
	if days <= 0 {
		days = a.Config.Rates.HistoryDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot reconcile")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rates, _ := a.newFetchers()
	reconciler := reconcile.New(rates, store, a.Logger)

	earliest := time.Now().UTC().AddDate(0, 0, -days)

	failed := 0
	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome, err := reconciler.Reconcile(ctx, pair, earliest)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Stringer("pair", pair).
				Int("inserted", outcome.Inserted).
				Msg("reconciliation failed; partial progress kept")
			continue
		}
		a.Logger.Info().Stringer("pair", pair).
			Int("inserted", outcome.Inserted).
			Int("duplicates", outcome.Duplicates).
			Msg("reconciliation complete")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pairs failed to reconcile", failed, len(pairs))
	}
	return nil
}
