// Package reconcile fills the gap between locally persisted rate
// history and the present, one currency pair at a time.
package reconcile

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"coinfolio/internal/domain"
	"coinfolio/internal/fetcher"
)

// RateRecordStore is the persistence contract the reconciler needs.
// Insert reports inserted=false for a benign (pair, day) duplicate.
type RateRecordStore interface {
	NewestRateRecord(ctx context.Context, pair domain.Pair) (domain.RateRecord, bool, error)
	InsertRateRecord(ctx context.Context, record domain.RateRecord) (inserted bool, err error)
}

// AdvisoryLocker is optionally implemented by stores that can serialize
// reconciliation across processes.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Outcome aggregates one reconciliation run.
type Outcome struct {
	Inserted   int
	Duplicates int
}

// Reconciler ensures the store holds one RateRecord per UTC day from
// the earliest needed day up to, but excluding, today. Concurrent runs
// for the same pair are coalesced; different pairs run independently.
type Reconciler struct {
	history fetcher.RateFetcher
	store   RateRecordStore
	logger  zerolog.Logger

	group singleflight.Group
	now   func() time.Time
}

// New constructs a Reconciler.
func New(history fetcher.RateFetcher, store RateRecordStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		history: history,
		store:   store,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		now:     time.Now,
	}
}

// Reconcile fills missing daily records for pair. earliest is the
// externally supplied oldest day the pair was ever needed; it only
// matters when no history is persisted yet. A request arriving while an
// equivalent one is in flight shares that run's outcome.
func (r *Reconciler) Reconcile(ctx context.Context, pair domain.Pair, earliest time.Time) (Outcome, error) {
	v, err, shared := r.group.Do(pair.String(), func() (any, error) {
		return r.run(ctx, pair, earliest)
	})
	if shared {
		r.logger.Debug().Stringer("pair", pair).Msg("reconciliation coalesced with in-flight run")
	}
	outcome, _ := v.(Outcome)
	return outcome, err
}

func (r *Reconciler) run(ctx context.Context, pair domain.Pair, earliest time.Time) (Outcome, error) {
	if locker, ok := r.store.(AdvisoryLocker); ok {
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, lockKey(pair))
		if err != nil {
			return Outcome{}, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !acquired {
			r.logger.Debug().Stringer("pair", pair).Msg("reconcile lock held elsewhere; skipping")
			return Outcome{}, nil
		}
		defer unlock()
	}

	today := domain.DayFloor(r.now().UTC())

	start, err := r.startDate(ctx, pair, earliest)
	if err != nil {
		return Outcome{}, err
	}
	if !start.Before(today) {
		// Already reconciled through yesterday: nothing missing.
		return Outcome{}, nil
	}

	points, err := r.history.FetchRateHistory(ctx, pair, start)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch rate history for %s: %w", pair, err)
	}

	// Collapse sub-day source granularity to one value per UTC day,
	// the last point in the day winning. Today's partial data belongs
	// only in the volatile cache, never in history.
	byDay := make(map[time.Time]dayPoint)
	for _, point := range points {
		day := domain.DayFloor(point.Time)
		if !day.Before(today) {
			continue
		}
		if held, ok := byDay[day]; !ok || !point.Time.Before(held.at) {
			byDay[day] = dayPoint{at: point.Time, record: domain.RateRecord{Pair: pair, Day: day, Value: point.Value}}
		}
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var outcome Outcome
	for _, day := range days {
		inserted, err := r.store.InsertRateRecord(ctx, byDay[day].record)
		if err != nil {
			// Keep everything committed so far; surface the failure.
			return outcome, fmt.Errorf("persist rate record %s %s: %w", pair, day.Format("2006-01-02"), err)
		}
		if inserted {
			outcome.Inserted++
		} else {
			outcome.Duplicates++
		}
	}

	r.logger.Info().
		Stringer("pair", pair).
		Int("inserted", outcome.Inserted).
		Int("duplicates", outcome.Duplicates).
		Msg("history reconciled")
	return outcome, nil
}

// startDate computes the first missing UTC day: the day after the
// newest persisted record, or the externally supplied earliest day when
// no history exists.
func (r *Reconciler) startDate(ctx context.Context, pair domain.Pair, earliest time.Time) (time.Time, error) {
	newest, ok, err := r.store.NewestRateRecord(ctx, pair)
	if err != nil {
		return time.Time{}, fmt.Errorf("query newest rate record for %s: %w", pair, err)
	}
	if ok {
		return domain.DayFloor(newest.Day).AddDate(0, 0, 1), nil
	}
	return domain.DayFloor(earliest), nil
}

type dayPoint struct {
	at     time.Time
	record domain.RateRecord
}

func lockKey(pair domain.Pair) int64 {
	h := fnv.New64a()
	h.Write([]byte("rate_reconcile:" + pair.String()))
	return int64(h.Sum64())
}
