package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
)

// RateQuote is one current-rate observation.
type RateQuote struct {
	Value      decimal.Decimal
	ObservedAt time.Time
}

// RateFetcher retrieves current and historical exchange rates for a
// currency pair from a remote price feed.
type RateFetcher interface {
	FetchCurrentRate(ctx context.Context, pair domain.Pair) (RateQuote, error)
	FetchRateHistory(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.RatePoint, error)
}

// BlockCountFetcher retrieves the current block count of a blockchain.
type BlockCountFetcher interface {
	FetchBlockCount(ctx context.Context, chain domain.Chain) (uint64, error)
}
