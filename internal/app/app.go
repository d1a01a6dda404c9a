package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/config"
	"agile-solo-strategy/internal/dispatch"
	"agile-solo-strategy/internal/httpapi"
	"agile-solo-strategy/internal/oracle"
	"agile-solo-strategy/internal/pricefeed"
	"agile-solo-strategy/internal/scheduler"
	"agile-solo-strategy/internal/service"
	"agile-solo-strategy/internal/storage"
	"agile-solo-strategy/internal/strategy"
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

func (a *App) newFeed() *pricefeed.Feed {
	return pricefeed.NewFeed(pricefeed.Options{
		BaseURL:   a.Config.PriceFeed.BaseURL,
		Timeout:   a.Config.PriceFeed.RequestTimeout,
		UserAgent: a.Config.PriceFeed.UserAgent,
	}, a.Logger)
}

func (a *App) newOracle() strategy.CoinPricer {
	if !a.Config.Oracle.Enabled {
		return nil
	}
	cfg := a.Config.Oracle
	return oracle.New(oracle.Options{
		RPCURL:            cfg.RPCURL,
		AggregatorAddress: cfg.AggregatorAddress,
		Decimals:          cfg.Decimals,
		Timeout:           cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newDispatcher() strategy.Dispatcher {
	if a.Config.Dispatcher.BaseURL == "" {
		a.Logger.Warn().Msg("dispatcher.base_url not configured; plans run dry")
		return dispatch.NewDryRun(a.Logger)
	}
	cfg := a.Config.Dispatcher
	return dispatch.NewHTTPDispatcher(cfg.BaseURL, cfg.APIToken, cfg.UserAgent, cfg.RequestTimeout, a.Logger)
}

func (a *App) newEngine(feed strategy.PriceSource, coin strategy.CoinPricer, store *storage.Store, dispatcher strategy.Dispatcher) *strategy.Engine {
	return strategy.NewEngine(strategy.EngineOptions{
		FreshnessWindow: a.Config.Strategy.FreshnessWindow,
		CycleTimeout:    a.Config.Scheduler.CycleTimeout,
		DispatchTimeout: a.Config.Dispatcher.RequestTimeout,
	}, feed, coin, store, store, store, store, dispatcher, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
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

// Run executes the long-running strategy controller.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	// An unparseable state record blocks startup; there is no safe default.
	if _, err := store.LoadState(ctx); err != nil {
		return fmt.Errorf("load strategy state: %w", err)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	feed := a.newFeed()
	engine := a.newEngine(feed, a.newOracle(), store, a.newDispatcher())

	var watcher service.Runner
	if a.Config.PriceFeed.PollInterval > 0 && a.Config.PriceFeed.SignificantChangePct > 0 {
		watcher = pricefeed.NewWatcher(pricefeed.WatcherOptions{
			PollInterval: a.Config.PriceFeed.PollInterval,
			ThresholdPct: decimal.NewFromFloat(a.Config.PriceFeed.SignificantChangePct),
		}, feed, sched.Trigger, a.Logger)
	}

	var api service.Runner
	if a.Config.API.Enabled {
		api = httpapi.NewServer(httpapi.ServerConfig{
			ListenAddr:   a.Config.API.ListenAddr,
			ReadTimeout:  a.Config.API.ReadTimeout,
			WriteTimeout: a.Config.API.WriteTimeout,
		}, store, store, store, sched.Trigger, a.Logger)
	}

	svc := service.New(a.Config, sched, engine, watcher, api, store, a.Logger)

	a.Logger.Info().Msg("starting strategy controller")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("strategy controller stopped")
	return nil
}

// ExportOptions hold parameters for exporting cycle history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure a single offline evaluation.
type SimulateOptions struct {
	Price string
}

// ReplayOptions configure the offline decision replay.
type ReplayOptions struct {
	Prices []string
}
