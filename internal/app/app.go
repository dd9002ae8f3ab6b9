package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coinfolio/internal/cache"
	"coinfolio/internal/config"
	"coinfolio/internal/daemon"
	"coinfolio/internal/fetcher"
	"coinfolio/internal/poll"
	"coinfolio/internal/reconcile"
	"coinfolio/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (fetcher.RateFetcher, fetcher.BlockCountFetcher) {
	rates := fetcher.NewRates(fetcher.RatesOptions{
		BaseURL:   a.Config.Rates.BaseURL,
		Timeout:   a.Config.Rates.RequestTimeout,
		UserAgent: a.Config.Rates.UserAgent,
		SymbolIDs: a.Config.Rates.SymbolIDs,
	}, a.Logger)

	blocks := fetcher.NewBlocks(fetcher.BlocksOptions{
		EthereumRPCURL:     a.Config.Chains.EthereumRPCURL,
		BitcoinExplorerURL: a.Config.Chains.BitcoinExplorerURL,
		Timeout:            a.Config.Chains.RequestTimeout,
	}, a.Logger)

	return rates, blocks
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running portfolio tracking daemon. SIGUSR1
// suspends polling (background), SIGUSR2 resumes it (foreground).
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; history reconciliation disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rates, blocks := a.newFetchers()

	var reconciler *reconcile.Reconciler
	if store != nil {
		reconciler = reconcile.New(rates, store, a.Logger)
	}

	coordinator := daemon.New(daemon.Options{
		PricesInterval: a.Config.Poll.PricesInterval,
		BlockInterval:  a.Config.Poll.BlockInterval,
		HistoryDays:    a.Config.Rates.HistoryDays,
	}, rates, blocks, cache.NewRateCache(), cache.NewHeightCache(), reconciler, a.Logger)

	lifecycle := poll.NewOSLifecycle(syscall.SIGUSR1, syscall.SIGUSR2, a.Logger)
	defer lifecycle.Close()

	coordinator.Start(ctx, lifecycle)
	defer coordinator.Stop()

	events, unsubscribe := coordinator.Subscribe()
	defer unsubscribe()
	go a.logEvents(ctx, events)

	for _, portfolio := range a.Config.DomainPortfolios() {
		coordinator.AddPortfolio(portfolio)
	}

	a.Logger.Info().Int("portfolios", len(a.Config.Portfolios)).Msg("tracking started")

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info().Msg("tracking stopped")
	return nil
}

// logEvents is the daemon's default observer: it turns coordinator
// events into log lines.
func (a *App) logEvents(ctx context.Context, events <-chan daemon.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case daemon.EventRateUpdated:
				a.Logger.Info().Stringer("key", ev.Key).Str("rate", ev.Rate.String()).Time("observed_at", ev.At).Msg("rate updated")
			case daemon.EventHeightUpdated:
				a.Logger.Info().Stringer("key", ev.Key).Uint64("height", ev.Height).Msg("block height updated")
			case daemon.EventHistoryReconciled:
				a.Logger.Info().Stringer("key", ev.Key).Int("inserted", ev.Inserted).Int("duplicates", ev.Duplicates).Msg("history reconciled")
			case daemon.EventRefreshFailed:
				a.Logger.Warn().Stringer("key", ev.Key).Err(ev.Err).Msg("refresh failed")
			}
		}
	}
}

// RefreshOptions configure the one-shot refresh command.
type RefreshOptions struct {
	Pairs []string
}

// ReconcileOptions configure the one-shot reconcile command.
type ReconcileOptions struct {
	Pairs []string
	Days  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Pair  string
	Limit int
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	Pair      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
