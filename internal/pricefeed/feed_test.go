package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/strategy"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFeedMissingBaseURL(t *testing.T) {
	f := NewFeed(Options{}, noopLogger())
	if _, err := f.CurrentPrice(context.Background()); err == nil {
		t.Fatal("missing base url must error")
	}
}

func TestFeedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream down"})
	}))
	defer srv.Close()

	f := NewFeed(Options{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	if _, err := f.CurrentPrice(context.Background()); err == nil {
		t.Fatal("HTTP 503 must error")
	}
}

func TestFeedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != currentPricePath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"price":     "0.245",
			"unit":      "EUR/kWh",
			"timestamp": "2025-01-02T15:00:00Z",
		})
	}))
	defer srv.Close()

	f := NewFeed(Options{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	point, err := f.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("success response must not error: %v", err)
	}
	if !point.Price.Equal(decimal.RequireFromString("0.245")) {
		t.Fatalf("price parsed wrong: %s", point.Price)
	}
	if point.Unit != "EUR/kWh" {
		t.Fatalf("unit parsed wrong: %s", point.Unit)
	}
}

type scriptedSource struct {
	prices []string
	idx    int
}

func (s *scriptedSource) CurrentPrice(context.Context) (strategy.PricePoint, error) {
	price := s.prices[s.idx]
	if s.idx < len(s.prices)-1 {
		s.idx++
	}
	return strategy.PricePoint{Price: decimal.RequireFromString(price), Timestamp: time.Now().UTC()}, nil
}

func TestWatcherFiresOnSignificantMove(t *testing.T) {
	fired := 0
	w := NewWatcher(WatcherOptions{
		PollInterval: time.Minute,
		ThresholdPct: decimal.NewFromInt(15),
	}, &scriptedSource{prices: []string{"0.20", "0.21", "0.30"}}, func(string) { fired++ }, noopLogger())

	ctx := context.Background()
	w.observe(ctx) // seeds baseline 0.20
	w.observe(ctx) // +5%: below threshold
	if fired != 0 {
		t.Fatalf("small move must not fire, fired=%d", fired)
	}
	w.observe(ctx) // +50% vs baseline
	if fired != 1 {
		t.Fatalf("expected one trigger, fired=%d", fired)
	}
}

func TestWatcherZeroThresholdNeverFires(t *testing.T) {
	fired := 0
	w := NewWatcher(WatcherOptions{PollInterval: time.Minute},
		&scriptedSource{prices: []string{"0.20", "99"}}, func(string) { fired++ }, noopLogger())

	ctx := context.Background()
	w.observe(ctx)
	w.observe(ctx)
	if fired != 0 {
		t.Fatalf("zero threshold disables the watcher, fired=%d", fired)
	}
}
