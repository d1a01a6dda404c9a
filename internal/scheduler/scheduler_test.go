package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestTriggerRunsTickBeforeInterval(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	go func() {
		_ = s.Run(ctx, func(_ context.Context, trigger string) error {
			select {
			case done <- trigger:
			default:
			}
			cancel()
			return nil
		})
	}()

	s.Trigger(TriggerPrice)

	select {
	case trigger := <-done:
		if trigger != TriggerPrice {
			t.Fatalf("got trigger %q, want %q", trigger, TriggerPrice)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not run a cycle")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	// No consumer running: the buffered request slot holds exactly one
	// pending evaluation no matter how many triggers arrive.
	for i := 0; i < 5; i++ {
		s.Trigger(TriggerManual)
	}
	if len(s.trigger) != 1 {
		t.Fatalf("expected one coalesced request, got %d", len(s.trigger))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, func(context.Context, string) error { return nil }); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
