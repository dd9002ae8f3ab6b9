// Package daemon composes the polling registry, scheduler, caches, and
// reconciler into one coordinator that derives subscriptions from the
// set of tracked portfolios.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinfolio/internal/cache"
	"coinfolio/internal/domain"
	"coinfolio/internal/fetcher"
	"coinfolio/internal/poll"
	"coinfolio/internal/reconcile"
)

// Options tune the coordinator.
type Options struct {
	PricesInterval time.Duration
	BlockInterval  func(domain.Chain) time.Duration
	HistoryDays    int
}

// Coordinator owns the tracked-portfolio universe. Every universe
// change kicks a full rebuild of the subscription set: reset, then
// re-subscribe everything currently required. Rapid changes collapse to
// a single rebuild through a capacity-one kick channel.
type Coordinator struct {
	opts   Options
	rates  fetcher.RateFetcher
	blocks fetcher.BlockCountFetcher

	rateCache   *cache.RateCache
	heightCache *cache.HeightCache
	reconciler  *reconcile.Reconciler // nil when persistence is disabled

	logger zerolog.Logger

	prices       *poll.Poller
	blockPollers map[domain.Chain]*poll.Poller

	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
	subs       map[int]chan Event
	nextSub    int

	ctx       context.Context
	cancel    context.CancelFunc
	lifecycle poll.LifecycleSource
	rebuildCh chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Coordinator. reconciler may be nil.
func New(opts Options, rates fetcher.RateFetcher, blocks fetcher.BlockCountFetcher, rateCache *cache.RateCache, heightCache *cache.HeightCache, reconciler *reconcile.Reconciler, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		opts:         opts,
		rates:        rates,
		blocks:       blocks,
		rateCache:    rateCache,
		heightCache:  heightCache,
		reconciler:   reconciler,
		logger:       logger.With().Str("component", "coordinator").Logger(),
		blockPollers: make(map[domain.Chain]*poll.Poller),
		portfolios:   make(map[string]domain.Portfolio),
		subs:         make(map[int]chan Event),
		rebuildCh:    make(chan struct{}, 1),
	}
	c.prices = poll.NewPoller(poll.Options{Interval: opts.PricesInterval}, c.refreshKey, logger)
	return c
}

// Start begins coordinator operation. lifecycle may be nil; when set,
// schedulers suspend on background and resume on foreground signals.
func (c *Coordinator) Start(ctx context.Context, lifecycle poll.LifecycleSource) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.lifecycle = lifecycle
	c.prices.Init(c.ctx, lifecycle)

	c.wg.Add(1)
	go c.rebuildLoop()
	c.logger.Info().Msg("coordinator started")
}

// Stop tears everything down: schedulers stop, subscriptions clear.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.prices.Reset()
	c.mu.Lock()
	pollers := make([]*poll.Poller, 0, len(c.blockPollers))
	for _, p := range c.blockPollers {
		pollers = append(pollers, p)
	}
	c.mu.Unlock()
	for _, p := range pollers {
		p.Reset()
	}
	c.logger.Info().Msg("coordinator stopped")
}

// AddPortfolio tracks a portfolio, replacing any with the same name.
func (c *Coordinator) AddPortfolio(p domain.Portfolio) {
	c.mu.Lock()
	c.portfolios[p.Name] = p
	c.mu.Unlock()
	c.kickRebuild()
}

// RemovePortfolio stops tracking a portfolio. Unknown names are a no-op.
func (c *Coordinator) RemovePortfolio(name string) {
	c.mu.Lock()
	_, exists := c.portfolios[name]
	delete(c.portfolios, name)
	c.mu.Unlock()
	if exists {
		c.kickRebuild()
	}
}

// SetQuote changes a portfolio's quote currency and reports whether the
// portfolio was known.
func (c *Coordinator) SetQuote(name, quote string) bool {
	c.mu.Lock()
	p, exists := c.portfolios[name]
	if exists {
		p.Quote = quote
		c.portfolios[name] = p
	}
	c.mu.Unlock()
	if exists {
		c.kickRebuild()
	}
	return exists
}

// Subscribe registers an observer for coordinator events. The returned
// cancel func removes the registration.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, EventBufferSize)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// CurrentRate reads the volatile cache for a pair's latest rate.
func (c *Coordinator) CurrentRate(pair domain.Pair) (cache.RateEntry, bool) {
	return c.rateCache.Get(pair)
}

// BlockHeight reads the volatile cache for a chain's latest block count.
func (c *Coordinator) BlockHeight(chain domain.Chain) (cache.HeightEntry, bool) {
	return c.heightCache.Get(chain)
}

// ActiveKeys snapshots every hot subscription key across domains.
func (c *Coordinator) ActiveKeys() []domain.Key {
	keys := c.prices.ActiveKeys()
	c.mu.Lock()
	pollers := make([]*poll.Poller, 0, len(c.blockPollers))
	for _, p := range c.blockPollers {
		pollers = append(pollers, p)
	}
	c.mu.Unlock()
	for _, p := range pollers {
		keys = append(keys, p.ActiveKeys()...)
	}
	return keys
}

// PricePollerState exposes the price scheduler's state.
func (c *Coordinator) PricePollerState() poll.State {
	return c.prices.State()
}

// kickRebuild requests a rebuild. The capacity-one channel coalesces
// bursts of universe changes into a single rebuild.
func (c *Coordinator) kickRebuild() {
	select {
	case c.rebuildCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) rebuildLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.rebuildCh:
			c.rebuild()
		}
	}
}

// rebuild diffs by full reconstruction: reset every registry, then
// re-subscribe each required key. Newly hot keys get an immediate
// out-of-band refresh; newly hot pairs also get a background history
// reconciliation.
func (c *Coordinator) rebuild() {
	c.mu.Lock()
	portfolios := make([]domain.Portfolio, 0, len(c.portfolios))
	for _, p := range c.portfolios {
		portfolios = append(portfolios, p)
	}
	c.mu.Unlock()

	desired := make([]domain.Key, 0)
	seen := make(map[domain.Key]int)
	for _, p := range portfolios {
		for _, key := range p.RequiredKeys() {
			if seen[key] == 0 {
				desired = append(desired, key)
			}
			seen[key]++
		}
	}

	c.prices.Reset()
	c.mu.Lock()
	blockPollers := make(map[domain.Chain]*poll.Poller, len(c.blockPollers))
	for chain, p := range c.blockPollers {
		blockPollers[chain] = p
	}
	c.mu.Unlock()
	for _, p := range blockPollers {
		p.Reset()
	}

	for _, key := range desired {
		var poller *poll.Poller
		switch key.Kind {
		case domain.KeyPair:
			poller = c.prices
		case domain.KeyChain:
			poller = c.blockPoller(key.Chain)
		default:
			continue
		}

		// Subscribe once per referencing portfolio so refcounts keep
		// modelling "N consumers care about this key".
		newlyHot := poller.Subscribe(key)
		for i := 1; i < seen[key]; i++ {
			poller.Subscribe(key)
		}

		if newlyHot {
			go c.refreshKey(c.ctx, key)
			if key.Kind == domain.KeyPair && c.reconciler != nil {
				go c.reconcilePair(c.ctx, key.Pair)
			}
		}
	}

	c.logger.Info().Int("portfolios", len(portfolios)).Int("keys", len(desired)).Msg("subscriptions rebuilt")
}

// blockPoller lazily creates the per-chain poller; chains run at
// distinct intervals.
func (c *Coordinator) blockPoller(chain domain.Chain) *poll.Poller {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.blockPollers[chain]; ok {
		return p
	}
	interval := time.Minute
	if c.opts.BlockInterval != nil {
		interval = c.opts.BlockInterval(chain)
	}
	p := poll.NewPoller(poll.Options{Interval: interval}, c.refreshKey, c.logger)
	p.Init(c.ctx, c.lifecycle)
	c.blockPollers[chain] = p
	return p
}

// refreshKey is the RefreshFunc for every poller: it fetches the key's
// current value and applies the result to the matching cache. Results
// landing after a key went cold are still applied; they are stale but
// harmless and trigger no further scheduling.
func (c *Coordinator) refreshKey(ctx context.Context, key domain.Key) {
	switch key.Kind {
	case domain.KeyPair:
		c.refreshPair(ctx, key.Pair)
	case domain.KeyChain:
		c.refreshChain(ctx, key.Chain)
	}
}

func (c *Coordinator) refreshPair(ctx context.Context, pair domain.Pair) {
	quote, err := c.rates.FetchCurrentRate(ctx, pair)
	if err != nil {
		c.logger.Warn().Err(err).Stringer("pair", pair).Msg("rate refresh failed")
		c.publish(Event{Kind: EventRefreshFailed, Key: domain.PairKey(pair), Err: err, At: time.Now().UTC()})
		return
	}
	c.rateCache.Set(pair, quote.Value, quote.ObservedAt)
	c.publish(Event{Kind: EventRateUpdated, Key: domain.PairKey(pair), Rate: quote.Value, At: quote.ObservedAt})
}

func (c *Coordinator) refreshChain(ctx context.Context, chain domain.Chain) {
	height, err := c.blocks.FetchBlockCount(ctx, chain)
	if err != nil {
		c.logger.Warn().Err(err).Str("chain", string(chain)).Msg("block count refresh failed")
		c.publish(Event{Kind: EventRefreshFailed, Key: domain.ChainKey(chain), Err: err, At: time.Now().UTC()})
		return
	}
	c.heightCache.Set(chain, height, time.Now().UTC())
	c.publish(Event{Kind: EventHeightUpdated, Key: domain.ChainKey(chain), Height: height, At: time.Now().UTC()})
}

func (c *Coordinator) reconcilePair(ctx context.Context, pair domain.Pair) {
	earliest := time.Now().UTC().AddDate(0, 0, -c.opts.HistoryDays)
	outcome, err := c.reconciler.Reconcile(ctx, pair, earliest)
	if err != nil {
		c.logger.Warn().Err(err).Stringer("pair", pair).Msg("history reconciliation failed")
		c.publish(Event{Kind: EventRefreshFailed, Key: domain.PairKey(pair), Err: err, At: time.Now().UTC()})
		return
	}
	c.publish(Event{
		Kind:       EventHistoryReconciled,
		Key:        domain.PairKey(pair),
		Inserted:   outcome.Inserted,
		Duplicates: outcome.Duplicates,
		At:         time.Now().UTC(),
	})
}

// publish delivers an event to every subscriber without blocking.
func (c *Coordinator) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}
