package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/band"
)

// Dispatch outcome recorded per cycle.
const (
	DispatchSkipped   = "skipped"
	DispatchDelivered = "delivered"
	DispatchPartial   = "partial"
	DispatchFailed    = "failed"
)

// PricePoint is one observation from the electricity price feed.
type PricePoint struct {
	Price     decimal.Decimal
	Unit      string
	Timestamp time.Time
}

// PriceSource supplies the current electricity price.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (PricePoint, error)
}

// CoinPricer optionally supplies a coin price used to annotate cycle
// records for the operator UI. Never feeds band decisions.
type CoinPricer interface {
	CoinPrice(ctx context.Context) (decimal.Decimal, error)
}

// StateStore persists the singleton strategy state. SaveState must be
// all-or-nothing and fail with a version conflict if the record changed
// underneath the cycle.
type StateStore interface {
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, st *State) error
}

// BandSource lists the operator-configured bands, already validated at
// write time.
type BandSource interface {
	ListBands(ctx context.Context) ([]band.PriceBand, error)
}

// TelemetrySource reads device metadata and the latest efficiency
// samples. Owned by telemetry ingestion; the engine only reads.
type TelemetrySource interface {
	LatestEfficiencies(ctx context.Context, deviceIDs []string) ([]EfficiencySample, error)
	DeviceClasses(ctx context.Context, deviceIDs []string) (map[string]string, error)
	HealthyDevices(ctx context.Context, deviceIDs []string) (map[string]bool, error)
}

// CycleRecord is the persisted audit trail of one evaluation.
type CycleRecord struct {
	EvaluatedAt      time.Time
	Trigger          string
	Price            decimal.Decimal
	PriceUnit        string
	MatchedBandID    int64
	CommittedBandID  int64
	Committed        bool
	Reason           string
	ChampionDeviceID *string
	PlannedDevices   int
	DispatchStatus   string
	CoinPrice        *decimal.Decimal
}

// CycleSink records evaluation outcomes.
type CycleSink interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
}

// DeviceResult is the dispatcher's per-device verdict.
type DeviceResult struct {
	DeviceID string `json:"deviceId"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher executes a plan against pools and power-control devices.
// Must be idempotent under repeated identical plans; retries are its
// responsibility.
type Dispatcher interface {
	Apply(ctx context.Context, plan Plan) ([]DeviceResult, error)
}

// EngineOptions tune the evaluation cycle.
type EngineOptions struct {
	FreshnessWindow time.Duration
	CycleTimeout    time.Duration
	DispatchTimeout time.Duration
}

// Engine runs the evaluate-and-persist sequence. One cycle at a time;
// admission control belongs to the caller.
type Engine struct {
	opts       EngineOptions
	prices     PriceSource
	coin       CoinPricer
	bands      BandSource
	states     StateStore
	telemetry  TelemetrySource
	cycles     CycleSink
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewEngine wires the evaluation engine. coin, cycles, and dispatcher
// may be nil; the corresponding steps degrade to no-ops.
func NewEngine(opts EngineOptions, prices PriceSource, coin CoinPricer, bands BandSource, states StateStore, telemetry TelemetrySource, cycles CycleSink, dispatcher Dispatcher, logger zerolog.Logger) *Engine {
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 2 * time.Minute
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	return &Engine{
		opts:       opts,
		prices:     prices,
		coin:       coin,
		bands:      bands,
		states:     states,
		telemetry:  telemetry,
		cycles:     cycles,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
}

// Evaluate runs one atomic evaluation cycle: read price, match band,
// apply hysteresis, resolve the champion, build the plan, persist state,
// then hand the plan to the dispatcher. The state commit is final once
// computed; a dispatch timeout does not roll it back.
func (e *Engine) Evaluate(ctx context.Context, trigger string) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CycleTimeout)
	defer cancel()

	now := time.Now().UTC()

	st, err := e.states.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load strategy state: %w", err)
	}
	if !st.Enabled {
		e.logger.Debug().Str("trigger", trigger).Msg("strategy disabled; skipping cycle")
		return nil
	}

	bands, err := e.bands.ListBands(ctx)
	if err != nil {
		return fmt.Errorf("list bands: %w", err)
	}
	table, err := band.NewTable(bands)
	if err != nil {
		return fmt.Errorf("band table: %w", err)
	}

	point, err := e.prices.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}

	candidate := table.Match(point.Price)
	decision, err := EvaluateGate(table, st, candidate.ID, now)
	if err != nil {
		return fmt.Errorf("hysteresis gate: %w", err)
	}

	committed, ok := table.ByID(decision.BandID)
	if !ok {
		// Committed band deleted under the running state. Re-match the
		// current price rather than guessing.
		return fmt.Errorf("%w: committed band %d no longer configured", band.ErrUnknownBand, decision.BandID)
	}

	if err := e.resolveChampion(ctx, st, committed, now); err != nil {
		return err
	}

	classes, err := e.telemetry.DeviceClasses(ctx, st.EnrolledDeviceIDs)
	if err != nil {
		return fmt.Errorf("device classes: %w", err)
	}

	plan := BuildPlan(committed, st.EnrolledDeviceIDs, classes, st.ChampionDeviceID)

	st.LastPriceChecked = &point.Price
	st.LastActionTime = &now
	st.UpdatedAt = now
	if err := e.states.SaveState(ctx, st); err != nil {
		return fmt.Errorf("save strategy state: %w", err)
	}

	status := e.dispatch(ctx, plan)

	e.logger.Info().
		Str("trigger", trigger).
		Str("price", point.Price.String()).
		Int64("matched_band", candidate.ID).
		Int64("committed_band", decision.BandID).
		Bool("committed", decision.Committed).
		Str("reason", decision.Reason).
		Str("dispatch", status).
		Msg("evaluation cycle complete")

	e.recordCycle(ctx, CycleRecord{
		EvaluatedAt:      now,
		Trigger:          trigger,
		Price:            point.Price,
		PriceUnit:        point.Unit,
		MatchedBandID:    candidate.ID,
		CommittedBandID:  decision.BandID,
		Committed:        decision.Committed,
		Reason:           decision.Reason,
		ChampionDeviceID: st.ChampionDeviceID,
		PlannedDevices:   len(plan.Actions),
		DispatchStatus:   status,
	})

	return nil
}

func (e *Engine) resolveChampion(ctx context.Context, st *State, committed band.PriceBand, now time.Time) error {
	if !committed.IsChampion() {
		st.ChampionDeviceID = nil
		return nil
	}

	samples, err := e.telemetry.LatestEfficiencies(ctx, st.EnrolledDeviceIDs)
	if err != nil {
		return fmt.Errorf("latest efficiencies: %w", err)
	}
	health, err := e.telemetry.HealthyDevices(ctx, st.EnrolledDeviceIDs)
	if err != nil {
		return fmt.Errorf("device health: %w", err)
	}

	ranking := Ranker{FreshnessWindow: e.opts.FreshnessWindow}.Rank(samples, now)
	previous := st.ChampionDeviceID
	st.ChampionDeviceID = SelectChampion(previous, ranking, func(id string) bool { return health[id] })

	switch {
	case st.ChampionDeviceID == nil:
		e.logger.Warn().Msg("no champion available; planning all enrolled devices off")
	case previous == nil || *previous != *st.ChampionDeviceID:
		e.logger.Info().Str("device", *st.ChampionDeviceID).Msg("champion promoted")
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, plan Plan) string {
	if e.dispatcher == nil {
		return DispatchSkipped
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, e.opts.DispatchTimeout)
	defer cancel()

	results, err := e.dispatcher.Apply(dispatchCtx, plan)
	if err != nil {
		e.logger.Error().Err(err).Msg("dispatch failed; plan will be re-issued next cycle")
		return DispatchFailed
	}

	rejected := 0
	for _, res := range results {
		if !res.Accepted {
			rejected++
			e.logger.Warn().Str("device", res.DeviceID).Str("error", res.Error).Msg("dispatcher rejected device action")
		}
	}
	if rejected > 0 {
		return DispatchPartial
	}
	return DispatchDelivered
}

func (e *Engine) recordCycle(ctx context.Context, rec CycleRecord) {
	if e.cycles == nil {
		return
	}
	if e.coin != nil {
		if price, err := e.coin.CoinPrice(ctx); err == nil {
			rec.CoinPrice = &price
		} else if !errors.Is(err, context.Canceled) {
			e.logger.Debug().Err(err).Msg("coin price unavailable")
		}
	}
	if err := e.cycles.RecordCycle(ctx, rec); err != nil {
		e.logger.Error().Err(err).Msg("failed to persist cycle record")
	}
}
