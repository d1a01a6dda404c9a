package strategy

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRankOrdersByEfficiency(t *testing.T) {
	now := time.Now().UTC()
	samples := []EfficiencySample{
		{DeviceID: "miner-3", WattsPerTerahash: decimal.RequireFromString("34.5"), MeasuredAt: now},
		{DeviceID: "miner-1", WattsPerTerahash: decimal.RequireFromString("21.2"), MeasuredAt: now},
		{DeviceID: "miner-2", WattsPerTerahash: decimal.RequireFromString("29.0"), MeasuredAt: now},
	}

	ranked := Ranker{FreshnessWindow: time.Hour}.Rank(samples, now)
	want := []string{"miner-1", "miner-2", "miner-3"}
	if !reflect.DeepEqual(ranked, want) {
		t.Fatalf("got %v, want %v", ranked, want)
	}
}

func TestRankExcludesStaleSamples(t *testing.T) {
	now := time.Now().UTC()
	samples := []EfficiencySample{
		{DeviceID: "fresh", WattsPerTerahash: decimal.RequireFromString("30"), MeasuredAt: now.Add(-5 * time.Minute)},
		{DeviceID: "stale", WattsPerTerahash: decimal.RequireFromString("20"), MeasuredAt: now.Add(-2 * time.Hour)},
	}

	ranked := Ranker{FreshnessWindow: 15 * time.Minute}.Rank(samples, now)
	if len(ranked) != 1 || ranked[0] != "fresh" {
		t.Fatalf("stale sample must be excluded even when more efficient: %v", ranked)
	}
}

func TestRankTieBreaksOnDeviceID(t *testing.T) {
	now := time.Now().UTC()
	samples := []EfficiencySample{
		{DeviceID: "miner-b", WattsPerTerahash: decimal.RequireFromString("25"), MeasuredAt: now},
		{DeviceID: "miner-a", WattsPerTerahash: decimal.RequireFromString("25"), MeasuredAt: now},
	}

	ranked := Ranker{FreshnessWindow: time.Hour}.Rank(samples, now)
	want := []string{"miner-a", "miner-b"}
	if !reflect.DeepEqual(ranked, want) {
		t.Fatalf("ties must break on device id: %v", ranked)
	}
}

func TestRankEmptyWhenNothingFresh(t *testing.T) {
	now := time.Now().UTC()
	samples := []EfficiencySample{
		{DeviceID: "old", WattsPerTerahash: decimal.RequireFromString("20"), MeasuredAt: now.Add(-time.Hour)},
	}
	ranked := Ranker{FreshnessWindow: time.Minute}.Rank(samples, now)
	if len(ranked) != 0 {
		t.Fatalf("expected empty ranking, got %v", ranked)
	}
}
