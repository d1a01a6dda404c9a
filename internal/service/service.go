package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"agile-solo-strategy/internal/config"
	"agile-solo-strategy/internal/scheduler"
	"agile-solo-strategy/internal/storage"
	"agile-solo-strategy/internal/strategy"
)

// Service orchestrates the evaluation loop: scheduler cadence, price
// watcher triggers, the operator API, and single-instance locking
// around each engine cycle.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *strategy.Engine
	watcher   Runner
	api       Runner
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// Runner is a long-lived background component tied to a context.
type Runner interface {
	Run(ctx context.Context) error
}

// New constructs the strategy service. watcher and api may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, engine *strategy.Engine, watcher, api Runner, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		engine:    engine,
		watcher:   watcher,
		api:       api,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Trigger requests an out-of-cadence evaluation.
func (s *Service) Trigger(reason string) {
	if s.scheduler != nil {
		s.scheduler.Trigger(reason)
	}
}

// Run starts the background components and blocks on the evaluation
// loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	if s.api != nil {
		go func() {
			if err := s.api.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("operator api: %w", err)
			}
		}()
	}
	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("price watcher: %w", err)
			}
		}()
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- s.scheduler.Run(runCtx, s.RunCycle)
	}()

	select {
	case err := <-errCh:
		cancel()
		<-schedErr
		return err
	case err := <-schedErr:
		return err
	}
}

// RunCycle 执行单个评估周期。
func (s *Service) RunCycle(ctx context.Context, trigger string) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Str("trigger", trigger).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.engine.Evaluate(ctx, trigger)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
