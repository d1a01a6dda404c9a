package pricefeed

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/strategy"
)

// WatcherOptions tune the significant-change detector.
type WatcherOptions struct {
	PollInterval time.Duration
	// ThresholdPct is the relative price move, in percent, that fires an
	// out-of-cadence evaluation.
	ThresholdPct decimal.Decimal
}

// Watcher polls the price feed and fires a trigger when the price moves
// significantly relative to the last observation that fired (or seeded)
// the baseline. The scheduled cadence still covers slow drifts.
type Watcher struct {
	opts     WatcherOptions
	source   strategy.PriceSource
	trigger  func(reason string)
	logger   zerolog.Logger
	baseline *decimal.Decimal
}

// NewWatcher constructs a price change watcher.
func NewWatcher(opts WatcherOptions, source strategy.PriceSource, trigger func(reason string), logger zerolog.Logger) *Watcher {
	return &Watcher{
		opts:    opts,
		source:  source,
		trigger: trigger,
		logger:  logger.With().Str("component", "price_watcher").Logger(),
	}
}

// Run blocks, polling until ctx is cancelled. Feed errors are logged and
// the next poll proceeds normally.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.opts.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.observe(ctx)
		}
	}
}

func (w *Watcher) observe(ctx context.Context) {
	point, err := w.source.CurrentPrice(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("price poll failed")
		return
	}

	if w.baseline == nil {
		w.baseline = &point.Price
		return
	}

	if w.significant(point.Price) {
		w.logger.Info().
			Str("baseline", w.baseline.String()).
			Str("price", point.Price.String()).
			Msg("significant price change detected")
		w.baseline = &point.Price
		w.trigger("price-change")
	}
}

func (w *Watcher) significant(price decimal.Decimal) bool {
	if w.opts.ThresholdPct.IsZero() || w.baseline.IsZero() {
		return false
	}
	movePct := price.Sub(*w.baseline).Div(*w.baseline).Abs().Mul(decimal.NewFromInt(100))
	return movePct.GreaterThan(w.opts.ThresholdPct)
}
