package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/band"
)

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func testTable(t *testing.T) *band.Table {
	t.Helper()
	table, err := band.NewTable([]band.PriceBand{
		{ID: 1, SortOrder: 1, MaxPrice: decPtr("10"), Kind: band.KindNormal, TargetPoolID: "pool-a"},
		{ID: 2, SortOrder: 2, MinPrice: decPtr("10"), MaxPrice: decPtr("20"), Kind: band.KindNormal, TargetPoolID: "pool-b"},
		{ID: 3, SortOrder: 3, MinPrice: decPtr("20"), MaxPrice: decPtr("30"), Kind: band.KindChampion, TargetPoolID: "pool-c"},
		{ID: 4, SortOrder: 4, MinPrice: decPtr("30"), Kind: band.KindOff},
	})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func gate(t *testing.T, table *band.Table, st *State, candidate int64) GateDecision {
	t.Helper()
	decision, err := EvaluateGate(table, st, candidate, time.Now().UTC())
	if err != nil {
		t.Fatalf("gate error: %v", err)
	}
	return decision
}

func TestGateBootstrapCommitsImmediately(t *testing.T) {
	table := testTable(t)
	st := &State{Enabled: true}

	decision := gate(t, table, st, 2)
	if !decision.Committed || decision.BandID != 2 || decision.Reason != ReasonBootstrap {
		t.Fatalf("bootstrap should commit candidate: %+v", decision)
	}
	if st.CurrentBandID == nil || *st.CurrentBandID != 2 {
		t.Fatalf("current band not updated: %+v", st)
	}
}

func TestGateImmediateDowngrade(t *testing.T) {
	table := testTable(t)
	current := int64(2)
	st := &State{Enabled: true, CurrentBandID: &current}

	decision := gate(t, table, st, 4)
	if !decision.Committed || decision.BandID != 4 || decision.Reason != ReasonDowngrade {
		t.Fatalf("more expensive candidate must commit immediately: %+v", decision)
	}
	if st.PendingBandID != nil || st.Confirmations != 0 {
		t.Fatalf("pending state should be cleared: %+v", st)
	}
}

func TestGateDowngradeIgnoresPendingCounters(t *testing.T) {
	table := testTable(t)
	current := int64(3)
	pending := int64(1)
	st := &State{Enabled: true, CurrentBandID: &current, PendingBandID: &pending, Confirmations: 1}

	decision := gate(t, table, st, 4)
	if !decision.Committed || decision.BandID != 4 {
		t.Fatalf("downgrade must not be delayed by pending counters: %+v", decision)
	}
}

func TestGateDelayedUpgrade(t *testing.T) {
	table := testTable(t)
	current := int64(3)
	st := &State{Enabled: true, CurrentBandID: &current}

	first := gate(t, table, st, 2)
	if first.Committed || first.BandID != 3 || first.Reason != ReasonPending {
		t.Fatalf("cheaper candidate must not commit on first sight: %+v", first)
	}
	if st.PendingBandID == nil || *st.PendingBandID != 2 || st.Confirmations != 1 {
		t.Fatalf("pending candidate not recorded: %+v", st)
	}

	second := gate(t, table, st, 2)
	if !second.Committed || second.BandID != 2 || second.Reason != ReasonConfirmed {
		t.Fatalf("confirmed candidate must commit on second sight: %+v", second)
	}
	if st.PendingBandID != nil {
		t.Fatalf("pending state should be cleared after commit: %+v", st)
	}
}

func TestGateCheaperThanPendingConfirms(t *testing.T) {
	table := testTable(t)
	current := int64(3)
	st := &State{Enabled: true, CurrentBandID: &current}

	gate(t, table, st, 2)
	decision := gate(t, table, st, 1)
	if !decision.Committed || decision.BandID != 1 {
		t.Fatalf("a band at least as cheap as pending confirms the transition: %+v", decision)
	}
}

func TestGateDifferentCandidateResetsCounter(t *testing.T) {
	table := testTable(t)
	current := int64(4)
	st := &State{Enabled: true, CurrentBandID: &current}

	gate(t, table, st, 1)
	// price bounced back up, but still cheaper than current
	decision := gate(t, table, st, 3)
	if decision.Committed {
		t.Fatalf("a pricier candidate than pending must restart confirmation: %+v", decision)
	}
	if st.PendingBandID == nil || *st.PendingBandID != 3 || st.Confirmations != 1 {
		t.Fatalf("pending candidate should be replaced: %+v", st)
	}
}

func TestGateUnchangedClearsPending(t *testing.T) {
	table := testTable(t)
	current := int64(3)
	pending := int64(1)
	st := &State{Enabled: true, CurrentBandID: &current, PendingBandID: &pending, Confirmations: 1}

	decision := gate(t, table, st, 3)
	if decision.Committed || decision.BandID != 3 || decision.Reason != ReasonUnchanged {
		t.Fatalf("unchanged candidate: %+v", decision)
	}
	if st.PendingBandID != nil {
		t.Fatalf("reverting to current band must reset pending: %+v", st)
	}
}

// Scenario from the strategy design: prices 9, 9, 15 against the four
// band layout commit pool-a at bootstrap, hold through the pending cycle,
// then confirm pool-b.
func TestGatePriceSequenceScenario(t *testing.T) {
	table := testTable(t)
	current := int64(4) // start expensive so the sequence exercises hysteresis
	st := &State{Enabled: true, CurrentBandID: &current}

	steps := []struct {
		price     string
		committed bool
		bandAfter int64
	}{
		{"9", false, 4},
		{"9", true, 1},
		{"15", true, 2}, // 15 matches band 2; pricier than committed band 1 -> immediate
	}
	for i, step := range steps {
		candidate := table.Match(decimal.RequireFromString(step.price))
		decision := gate(t, table, st, candidate.ID)
		if decision.Committed != step.committed || decision.BandID != step.bandAfter {
			t.Fatalf("step %d: got %+v, want committed=%v band=%d", i, decision, step.committed, step.bandAfter)
		}
	}
}
