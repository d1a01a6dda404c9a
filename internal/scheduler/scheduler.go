package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Trigger reasons handed to the tick function.
const (
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerPrice    = "price-change"
)

// TickFunc is invoked once per admitted evaluation request.
type TickFunc func(ctx context.Context, trigger string) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives the evaluation loop: a fixed cadence unified with
// event triggers into a single request stream consumed one at a time.
// Triggers arriving while a cycle runs coalesce into at most one queued
// request rather than piling up.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	trigger chan string
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		trigger: make(chan string, 1),
	}
}

// Trigger requests an out-of-cadence evaluation. Non-blocking; if a
// request is already queued the new one coalesces into it.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.trigger <- reason:
	default:
		s.logger.Debug().Str("reason", reason).Msg("evaluation already queued; coalescing trigger")
	}
}

// Run blocks, invoking the tick function on each interval slot and each
// trigger until ctx is cancelled. Tick errors are logged, never fatal.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_slot", next).Msg("waiting for next evaluation slot")

		var reason string
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
			reason = TriggerInterval
			next = next.Add(s.opts.Interval)
			// A trigger racing the timer collapses into this run.
			select {
			case <-s.trigger:
			default:
			}
		case reason = <-s.trigger:
			timer.Stop()
		}

		s.logger.Info().Str("trigger", reason).Msg("executing evaluation cycle")
		if err := tick(ctx, reason); err != nil {
			s.logger.Error().Err(err).Str("trigger", reason).Msg("evaluation cycle failed")
		}
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}
