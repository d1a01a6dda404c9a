package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// State is the single persisted strategy record. It is loaded at cycle
// start, mutated only inside the single-owner evaluation cycle, and saved
// with optimistic versioning at cycle end.
type State struct {
	Version           int64
	Enabled           bool
	EnrolledDeviceIDs []string
	CurrentBandID     *int64
	PendingBandID     *int64
	PendingSince      *time.Time
	Confirmations     int
	LastPriceChecked  *decimal.Decimal
	LastActionTime    *time.Time
	ChampionDeviceID  *string
	UpdatedAt         time.Time
}

// Clone returns a deep copy safe to mutate independently.
func (s *State) Clone() *State {
	out := *s
	out.EnrolledDeviceIDs = append([]string(nil), s.EnrolledDeviceIDs...)
	if s.CurrentBandID != nil {
		v := *s.CurrentBandID
		out.CurrentBandID = &v
	}
	if s.PendingBandID != nil {
		v := *s.PendingBandID
		out.PendingBandID = &v
	}
	if s.PendingSince != nil {
		v := *s.PendingSince
		out.PendingSince = &v
	}
	if s.LastPriceChecked != nil {
		v := *s.LastPriceChecked
		out.LastPriceChecked = &v
	}
	if s.LastActionTime != nil {
		v := *s.LastActionTime
		out.LastActionTime = &v
	}
	if s.ChampionDeviceID != nil {
		v := *s.ChampionDeviceID
		out.ChampionDeviceID = &v
	}
	return &out
}

// Enroll places a device under strategy control. Idempotent.
func (s *State) Enroll(deviceID string) {
	for _, id := range s.EnrolledDeviceIDs {
		if id == deviceID {
			return
		}
	}
	s.EnrolledDeviceIDs = append(s.EnrolledDeviceIDs, deviceID)
	sort.Strings(s.EnrolledDeviceIDs)
}

// Unenroll removes a device from strategy control. Idempotent.
func (s *State) Unenroll(deviceID string) {
	for i, id := range s.EnrolledDeviceIDs {
		if id == deviceID {
			s.EnrolledDeviceIDs = append(s.EnrolledDeviceIDs[:i], s.EnrolledDeviceIDs[i+1:]...)
			return
		}
	}
}

// Enrolled reports whether a device is under strategy control.
func (s *State) Enrolled(deviceID string) bool {
	for _, id := range s.EnrolledDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// References reports whether the committed or pending band is bandID.
// Band writes that would orphan a referenced id must be rejected at the
// configuration surface; the gate assumes every referenced id resolves.
func (s *State) References(bandID int64) bool {
	if s.CurrentBandID != nil && *s.CurrentBandID == bandID {
		return true
	}
	return s.PendingBandID != nil && *s.PendingBandID == bandID
}

// ResetBandRefs drops the committed and pending band pointers so the
// next cycle bootstraps against a rebuilt table.
func (s *State) ResetBandRefs() {
	s.CurrentBandID = nil
	s.clearPending()
}

func (s *State) clearPending() {
	s.PendingBandID = nil
	s.PendingSince = nil
	s.Confirmations = 0
}
