package strategy

import (
	"time"

	"agile-solo-strategy/internal/band"
)

// Commit reasons recorded on cycle records and exposed for display.
const (
	ReasonBootstrap = "bootstrap"
	ReasonUnchanged = "unchanged"
	ReasonDowngrade = "immediate-downgrade"
	ReasonConfirmed = "confirmed-upgrade"
	ReasonPending   = "pending-confirmation"
)

// GateDecision reports the outcome of the hysteresis gate.
type GateDecision struct {
	Committed bool
	BandID    int64
	Reason    string
}

// EvaluateGate applies asymmetric hysteresis to a candidate band.
//
// Transitions to a more expensive band (including off) commit on the
// first cycle they are observed: continued cheap-mode operation at
// expensive prices risks negative profitability, so the downgrade is
// never delayed. Transitions to a cheaper band commit only after the
// candidate has been seen on two consecutive cycles; a candidate that is
// more expensive than the pending one resets the confirmation counter.
//
// The only state mutated is CurrentBandID, PendingBandID, PendingSince,
// and Confirmations. The returned BandID is the committed band after the
// evaluation.
func EvaluateGate(table *band.Table, st *State, candidateID int64, now time.Time) (GateDecision, error) {
	if st.CurrentBandID == nil {
		st.CurrentBandID = &candidateID
		st.clearPending()
		return GateDecision{Committed: true, BandID: candidateID, Reason: ReasonBootstrap}, nil
	}

	currentID := *st.CurrentBandID
	if candidateID == currentID {
		st.clearPending()
		return GateDecision{Committed: false, BandID: currentID, Reason: ReasonUnchanged}, nil
	}

	cmp, err := table.Compare(candidateID, currentID)
	if err != nil {
		return GateDecision{}, err
	}

	if cmp > 0 {
		st.CurrentBandID = &candidateID
		st.clearPending()
		return GateDecision{Committed: true, BandID: candidateID, Reason: ReasonDowngrade}, nil
	}

	// Cheaper candidate: require a confirming cycle. A candidate at least
	// as cheap as the pending one counts as confirmation.
	if st.PendingBandID != nil {
		pendingCmp, err := table.Compare(candidateID, *st.PendingBandID)
		if err != nil {
			return GateDecision{}, err
		}
		if pendingCmp <= 0 {
			st.CurrentBandID = &candidateID
			st.clearPending()
			return GateDecision{Committed: true, BandID: candidateID, Reason: ReasonConfirmed}, nil
		}
	}

	st.PendingBandID = &candidateID
	st.PendingSince = &now
	st.Confirmations = 1
	return GateDecision{Committed: false, BandID: currentID, Reason: ReasonPending}, nil
}
