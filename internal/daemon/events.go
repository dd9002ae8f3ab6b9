package daemon

import (
	"time"

	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
)

// EventBufferSize is the capacity of each subscriber's event channel.
// Slow subscribers drop events rather than stalling refreshes.
const EventBufferSize = 64

// EventKind discriminates coordinator events.
type EventKind int

const (
	// EventRateUpdated signals a fresh current rate in the cache.
	EventRateUpdated EventKind = iota
	// EventHeightUpdated signals a fresh block count.
	EventHeightUpdated
	// EventHistoryReconciled signals a completed history reconciliation.
	EventHistoryReconciled
	// EventRefreshFailed signals a failed refresh or reconciliation.
	// The next tick is the retry; observers may log or display it.
	EventRefreshFailed
)

func (k EventKind) String() string {
	switch k {
	case EventRateUpdated:
		return "rate_updated"
	case EventHeightUpdated:
		return "height_updated"
	case EventHistoryReconciled:
		return "history_reconciled"
	case EventRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// Event is published by the Coordinator to registered observers.
// Which payload fields are set depends on Kind.
type Event struct {
	Kind       EventKind
	Key        domain.Key
	Rate       decimal.Decimal
	Height     uint64
	Inserted   int
	Duplicates int
	Err        error
	At         time.Time
}
