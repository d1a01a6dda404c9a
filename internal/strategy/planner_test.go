package strategy

import (
	"encoding/json"
	"reflect"
	"testing"

	"agile-solo-strategy/internal/band"
)

var testClasses = map[string]string{
	"miner-1": "A",
	"miner-2": "B",
	"miner-3": "Z", // class without a configured mode
}

func TestBuildPlanOffBand(t *testing.T) {
	b := band.PriceBand{ID: 4, Kind: band.KindOff}
	plan := BuildPlan(b, []string{"miner-2", "miner-1"}, testClasses, nil)

	if len(plan.Actions) != 2 {
		t.Fatalf("plan must cover every enrolled device: %+v", plan)
	}
	for _, action := range plan.Actions {
		if action.PoolID != nil || action.Mode != nil || action.Reason != PlanReasonOffBand {
			t.Fatalf("off band must power down: %+v", action)
		}
	}
}

func TestBuildPlanNormalBand(t *testing.T) {
	b := band.PriceBand{
		ID:           2,
		Kind:         band.KindNormal,
		TargetPoolID: "pool-b",
		ClassModes:   map[string]string{"A": "turbo", "B": "eco"},
	}
	plan := BuildPlan(b, []string{"miner-1", "miner-2", "miner-3"}, testClasses, nil)

	byID := map[string]DeviceAction{}
	for _, action := range plan.Actions {
		byID[action.DeviceID] = action
	}

	if a := byID["miner-1"]; a.PoolID == nil || *a.PoolID != "pool-b" || a.Mode == nil || *a.Mode != "turbo" || a.Reason != PlanReasonBandMode {
		t.Fatalf("miner-1: %+v", a)
	}
	if a := byID["miner-2"]; a.Mode == nil || *a.Mode != "eco" {
		t.Fatalf("miner-2: %+v", a)
	}
	// Unmapped class stays externally managed instead of failing the cycle.
	if a := byID["miner-3"]; a.PoolID != nil || a.Mode != nil || a.Reason != PlanReasonClassUnmanaged {
		t.Fatalf("miner-3: %+v", a)
	}
}

func TestBuildPlanChampionBand(t *testing.T) {
	b := band.PriceBand{
		ID:           3,
		Kind:         band.KindChampion,
		TargetPoolID: "pool-c",
		ClassModes:   map[string]string{"A": "eco", "B": "eco"},
	}
	champion := "miner-2"
	plan := BuildPlan(b, []string{"miner-1", "miner-2", "miner-3"}, testClasses, &champion)

	for _, action := range plan.Actions {
		if action.DeviceID == champion {
			if action.PoolID == nil || *action.PoolID != "pool-c" || action.Mode == nil || *action.Mode != "eco" || action.Reason != PlanReasonChampionMode {
				t.Fatalf("champion action: %+v", action)
			}
			continue
		}
		if action.PoolID != nil || action.Reason != PlanReasonChampionExclusive {
			t.Fatalf("non-champion must idle: %+v", action)
		}
	}
}

func TestBuildPlanChampionBandNoChampion(t *testing.T) {
	b := band.PriceBand{ID: 3, Kind: band.KindChampion, TargetPoolID: "pool-c"}
	plan := BuildPlan(b, []string{"miner-1", "miner-2"}, testClasses, nil)

	for _, action := range plan.Actions {
		if action.PoolID != nil {
			t.Fatalf("without a champion every device idles: %+v", action)
		}
	}
}

func TestBuildPlanIsDeterministic(t *testing.T) {
	b := band.PriceBand{
		ID:           2,
		Kind:         band.KindNormal,
		TargetPoolID: "pool-b",
		ClassModes:   map[string]string{"A": "turbo", "B": "eco"},
	}

	first := BuildPlan(b, []string{"miner-2", "miner-1"}, testClasses, nil)
	second := BuildPlan(b, []string{"miner-1", "miner-2"}, testClasses, nil)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical committed state must plan identically:\n%+v\n%+v", first, second)
	}

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Fatalf("plans must serialize byte-identically:\n%s\n%s", firstJSON, secondJSON)
	}
}
