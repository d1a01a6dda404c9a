package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/band"
	"agile-solo-strategy/internal/dispatch"
	"agile-solo-strategy/internal/strategy"
)

// Simulate 使用给定的电价离线执行一次评估，不落库、不下发。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	price, err := decimal.NewFromString(opts.Price)
	if err != nil {
		return fmt.Errorf("invalid --price %q: %w", opts.Price, err)
	}

	bands, err := a.loadBandsOrDefaults(ctx)
	if err != nil {
		return err
	}

	world := newOfflineWorld(bands, price)
	engine := a.newOfflineEngine(world)

	if err := engine.Evaluate(ctx, "manual"); err != nil {
		return err
	}
	return world.printDecisions(os.Stdout)
}

// Replay runs a price sequence through a fresh evaluation loop and
// prints the decision each step would have made. Nothing is persisted
// or dispatched.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if len(opts.Prices) == 0 {
		return errors.New("at least one --prices value is required")
	}

	prices := make([]decimal.Decimal, 0, len(opts.Prices))
	for _, raw := range opts.Prices {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", raw, err)
		}
		prices = append(prices, p)
	}

	bands, err := a.loadBandsOrDefaults(ctx)
	if err != nil {
		return err
	}

	world := newOfflineWorld(bands, prices[0])
	engine := a.newOfflineEngine(world)

	for i, p := range prices {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		world.price = p
		if err := engine.Evaluate(ctx, "interval"); err != nil {
			a.Logger.Error().Err(err).Int("step", i).Msg("重放步骤失败")
			return err
		}
	}

	return world.printDecisions(os.Stdout)
}

func (a *App) newOfflineEngine(world *offlineWorld) *strategy.Engine {
	return strategy.NewEngine(strategy.EngineOptions{
		FreshnessWindow: a.Config.Strategy.FreshnessWindow,
		CycleTimeout:    a.Config.Scheduler.CycleTimeout,
		DispatchTimeout: a.Config.Dispatcher.RequestTimeout,
	}, world, nil, world, world, world, world, dispatch.NewDryRun(a.Logger), a.Logger)
}

// loadBandsOrDefaults reads the operator band table when a database is
// configured and falls back to the built-in defaults otherwise.
func (a *App) loadBandsOrDefaults(ctx context.Context) ([]band.PriceBand, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; simulating against default bands")
		return band.DefaultBands(), nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	bands, err := store.ListBands(ctx)
	if err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		a.Logger.Warn().Msg("band table empty; simulating against default bands")
		return band.DefaultBands(), nil
	}
	return bands, nil
}

// offlineWorld backs a throwaway evaluation loop: fixed bands, a
// settable price, in-memory state, no devices.
type offlineWorld struct {
	bands  []band.PriceBand
	price  decimal.Decimal
	state  *strategy.State
	cycles []strategy.CycleRecord
}

func newOfflineWorld(bands []band.PriceBand, price decimal.Decimal) *offlineWorld {
	return &offlineWorld{
		bands: bands,
		price: price,
		state: &strategy.State{Enabled: true},
	}
}

func (w *offlineWorld) CurrentPrice(context.Context) (strategy.PricePoint, error) {
	return strategy.PricePoint{Price: w.price, Unit: "USD/kWh", Timestamp: time.Now().UTC()}, nil
}

func (w *offlineWorld) ListBands(context.Context) ([]band.PriceBand, error) {
	return w.bands, nil
}

func (w *offlineWorld) LoadState(context.Context) (*strategy.State, error) {
	return w.state.Clone(), nil
}

func (w *offlineWorld) SaveState(_ context.Context, st *strategy.State) error {
	st.Version++
	w.state = st.Clone()
	return nil
}

func (w *offlineWorld) LatestEfficiencies(context.Context, []string) ([]strategy.EfficiencySample, error) {
	return nil, nil
}

func (w *offlineWorld) DeviceClasses(context.Context, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (w *offlineWorld) HealthyDevices(context.Context, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (w *offlineWorld) RecordCycle(_ context.Context, rec strategy.CycleRecord) error {
	w.cycles = append(w.cycles, rec)
	return nil
}

func (w *offlineWorld) printDecisions(out *os.File) error {
	for i, rec := range w.cycles {
		held := ""
		if !rec.Committed {
			held = " (held)"
		}
		fmt.Fprintf(out, "step %d: price=%s matched=band %d committed=band %d%s reason=%s\n",
			i+1, rec.Price.String(), rec.MatchedBandID, rec.CommittedBandID, held, rec.Reason)
	}
	return nil
}

var (
	_ strategy.PriceSource     = (*offlineWorld)(nil)
	_ strategy.BandSource      = (*offlineWorld)(nil)
	_ strategy.StateStore      = (*offlineWorld)(nil)
	_ strategy.TelemetrySource = (*offlineWorld)(nil)
	_ strategy.CycleSink       = (*offlineWorld)(nil)
)
