package band

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates band behaviour.
type Kind string

const (
	// KindNormal mines the band's target pool with per-class modes.
	KindNormal Kind = "normal"
	// KindOff powers every enrolled device down.
	KindOff Kind = "off"
	// KindChampion mines the target pool on the single most efficient device only.
	KindChampion Kind = "champion"
)

// Valid reports whether k is a known band kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNormal, KindOff, KindChampion:
		return true
	}
	return false
}

// PriceBand maps a contiguous price interval to a mining target.
// The interval is [MinPrice, MaxPrice); a nil bound is unbounded.
type PriceBand struct {
	ID           int64
	SortOrder    int
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	Kind         Kind
	TargetPoolID string
	// ClassModes maps a device class to a tuning mode identifier.
	// Ignored for the off band.
	ClassModes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsOff reports whether the band powers devices down.
func (b PriceBand) IsOff() bool { return b.Kind == KindOff }

// IsChampion reports whether the band runs champion mode.
func (b PriceBand) IsChampion() bool { return b.Kind == KindChampion }

// Contains reports whether price falls inside the band's interval.
func (b PriceBand) Contains(price decimal.Decimal) bool {
	if b.MinPrice != nil && price.LessThan(*b.MinPrice) {
		return false
	}
	if b.MaxPrice != nil && price.GreaterThanOrEqual(*b.MaxPrice) {
		return false
	}
	return true
}

// DefaultBands returns the factory band layout used by reset-to-defaults:
// cheap mining, moderate mining, champion-only, and off.
func DefaultBands() []PriceBand {
	dec := func(v string) *decimal.Decimal {
		d := decimal.RequireFromString(v)
		return &d
	}
	return []PriceBand{
		{
			SortOrder:    1,
			MaxPrice:     dec("0.10"),
			Kind:         KindNormal,
			TargetPoolID: "primary",
			ClassModes:   map[string]string{"A": "turbo", "B": "normal", "C": "normal"},
		},
		{
			SortOrder:    2,
			MinPrice:     dec("0.10"),
			MaxPrice:     dec("0.20"),
			Kind:         KindNormal,
			TargetPoolID: "primary",
			ClassModes:   map[string]string{"A": "normal", "B": "eco", "C": "eco"},
		},
		{
			SortOrder:    3,
			MinPrice:     dec("0.20"),
			MaxPrice:     dec("0.30"),
			Kind:         KindChampion,
			TargetPoolID: "primary",
			ClassModes:   map[string]string{"A": "eco", "B": "eco", "C": "eco"},
		},
		{
			SortOrder: 4,
			MinPrice:  dec("0.30"),
			Kind:      KindOff,
		},
	}
}
