package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is one persisted exchange rate, at most one per (pair, UTC day).
// Today's rate is never persisted; it lives only in the volatile cache.
type RateRecord struct {
	Pair  Pair
	Day   time.Time // UTC midnight
	Value decimal.Decimal
}

// RatePoint is a dated rate observation at the source's native granularity.
type RatePoint struct {
	Time  time.Time
	Value decimal.Decimal
}

// DayFloor truncates t to the start of its UTC day.
func DayFloor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
