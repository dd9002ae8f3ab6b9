package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
)

const (
	simplePricePath       = "/simple/price"
	marketChartPathTmpl   = "/coins/%s/market_chart/range"
	defaultRatesBaseURL   = "https://api.coingecko.com/api/v3"
	defaultRatesTimeout   = 10 * time.Second
	defaultRatesUserAgent = "coinfolio/1.0"
)

// DefaultSymbolIDs maps common currency symbols to CoinGecko coin ids.
// Extended or overridden through configuration.
var DefaultSymbolIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usd-coin",
	"SOL":  "solana",
	"LINK": "chainlink",
	"UNI":  "uniswap",
	"AAVE": "aave",
}

// RatesOptions parameterise the price feed client.
type RatesOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	SymbolIDs map[string]string
}

// Rates fetches exchange rates from a CoinGecko-compatible API.
type Rates struct {
	opts    RatesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	ids     map[string]string
}

// NewRates constructs a price feed client.
func NewRates(opts RatesOptions, logger zerolog.Logger) *Rates {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRatesTimeout
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRatesBaseURL
	}

	ids := make(map[string]string, len(DefaultSymbolIDs)+len(opts.SymbolIDs))
	for sym, id := range DefaultSymbolIDs {
		ids[sym] = id
	}
	for sym, id := range opts.SymbolIDs {
		ids[strings.ToUpper(sym)] = id
	}

	return &Rates{
		opts:    opts,
		logger:  logger.With().Str("component", "rates_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		ids:     ids,
	}
}

func (r *Rates) coinID(symbol string) (string, error) {
	if id, ok := r.ids[strings.ToUpper(symbol)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("no coin id known for symbol %q", symbol)
}

// FetchCurrentRate retrieves the latest price for pair.Base quoted in
// pair.Quote.
func (r *Rates) FetchCurrentRate(ctx context.Context, pair domain.Pair) (RateQuote, error) {
	id, err := r.coinID(pair.Base)
	if err != nil {
		return RateQuote{}, err
	}
	vs := strings.ToLower(pair.Quote)

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", vs)
	query.Set("include_last_updated_at", "true")
	endpoint := r.baseURL + simplePricePath + "?" + query.Encode()

	payload, err := r.getJSON(ctx, endpoint)
	if err != nil {
		return RateQuote{}, err
	}

	var body map[string]map[string]json.Number
	if err := unmarshalNumbers(payload, &body); err != nil {
		return RateQuote{}, fmt.Errorf("decode current rate: %w", err)
	}

	coin, ok := body[id]
	if !ok {
		return RateQuote{}, fmt.Errorf("price feed returned no data for %s", pair)
	}
	raw, ok := coin[vs]
	if !ok {
		return RateQuote{}, fmt.Errorf("price feed returned no %s quote for %s", pair.Quote, pair.Base)
	}

	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return RateQuote{}, fmt.Errorf("parse rate value: %w", err)
	}
	if value.IsZero() {
		return RateQuote{}, errors.New("price feed returned zero rate")
	}

	observedAt := time.Now().UTC()
	if ts, ok := coin["last_updated_at"]; ok {
		if unix, err := ts.Int64(); err == nil && unix > 0 {
			observedAt = time.Unix(unix, 0).UTC()
		}
	}

	return RateQuote{Value: value, ObservedAt: observedAt}, nil
}

// FetchRateHistory retrieves dated rate points for the half-open range
// [since, now). Granularity is the source's own; callers collapse to
// days as needed.
func (r *Rates) FetchRateHistory(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.RatePoint, error) {
	id, err := r.coinID(pair.Base)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !since.Before(now) {
		return nil, nil
	}

	query := url.Values{}
	query.Set("vs_currency", strings.ToLower(pair.Quote))
	query.Set("from", strconv.FormatInt(since.UTC().Unix(), 10))
	query.Set("to", strconv.FormatInt(now.Unix(), 10))
	endpoint := r.baseURL + fmt.Sprintf(marketChartPathTmpl, id) + "?" + query.Encode()

	payload, err := r.getJSON(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var body struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := unmarshalNumbers(payload, &body); err != nil {
		return nil, fmt.Errorf("decode rate history: %w", err)
	}

	points := make([]domain.RatePoint, 0, len(body.Prices))
	for _, entry := range body.Prices {
		if len(entry) != 2 {
			return nil, fmt.Errorf("malformed price entry of length %d", len(entry))
		}
		millis, err := entry[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("parse point timestamp: %w", err)
		}
		value, err := decimal.NewFromString(entry[1].String())
		if err != nil {
			return nil, fmt.Errorf("parse point value: %w", err)
		}
		points = append(points, domain.RatePoint{
			Time:  time.UnixMilli(millis).UTC(),
			Value: value,
		})
	}

	r.logger.Debug().Stringer("pair", pair).Int("points", len(points)).Msg("history fetched")
	return points, nil
}

func (r *Rates) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	ua := strings.TrimSpace(r.opts.UserAgent)
	if ua == "" {
		ua = defaultRatesUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func unmarshalNumbers(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	return dec.Decode(v)
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price feed error (%d)", status)
}

var _ RateFetcher = (*Rates)(nil)
