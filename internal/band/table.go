package band

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidConfiguration indicates the band list fails validation.
	ErrInvalidConfiguration = errors.New("band: invalid configuration")
	// ErrEmptyTable indicates no bands are configured.
	ErrEmptyTable = errors.New("band: no bands configured")
	// ErrUnknownBand indicates a band id not present in the table.
	ErrUnknownBand = errors.New("band: unknown band")
)

// Table holds a validated, ordered band list. Immutable after construction.
type Table struct {
	bands []PriceBand
	byID  map[int64]PriceBand
}

// NewTable validates and indexes the operator-configured band list.
// Bands must form a contiguous, non-overlapping cover of the price axis
// when sorted by SortOrder, carry at most one off band, and at most one
// champion band.
func NewTable(bands []PriceBand) (*Table, error) {
	if len(bands) == 0 {
		return nil, ErrEmptyTable
	}

	sorted := make([]PriceBand, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	byID := make(map[int64]PriceBand, len(sorted))
	offCount := 0
	championCount := 0

	for i, b := range sorted {
		if !b.Kind.Valid() {
			return nil, fmt.Errorf("%w: band %d has unknown kind %q", ErrInvalidConfiguration, b.ID, b.Kind)
		}
		if i > 0 && sorted[i-1].SortOrder == b.SortOrder {
			return nil, fmt.Errorf("%w: duplicate sort order %d", ErrInvalidConfiguration, b.SortOrder)
		}
		if _, dup := byID[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate band id %d", ErrInvalidConfiguration, b.ID)
		}
		byID[b.ID] = b

		if b.MinPrice != nil && b.MaxPrice != nil && !b.MinPrice.LessThan(*b.MaxPrice) {
			return nil, fmt.Errorf("%w: band %d min %s not below max %s", ErrInvalidConfiguration, b.ID, b.MinPrice, b.MaxPrice)
		}

		switch {
		case i == 0:
			// lowest band may be open below
		case b.MinPrice == nil:
			return nil, fmt.Errorf("%w: band %d is open below but not the lowest band", ErrInvalidConfiguration, b.ID)
		case sorted[i-1].MaxPrice == nil:
			return nil, fmt.Errorf("%w: band %d is unreachable behind an open-ended band", ErrInvalidConfiguration, b.ID)
		case !sorted[i-1].MaxPrice.Equal(*b.MinPrice):
			return nil, fmt.Errorf("%w: gap or overlap between bands %d and %d (%s vs %s)",
				ErrInvalidConfiguration, sorted[i-1].ID, b.ID, sorted[i-1].MaxPrice, b.MinPrice)
		}

		switch b.Kind {
		case KindOff:
			offCount++
		case KindChampion:
			championCount++
			fallthrough
		case KindNormal:
			if b.TargetPoolID == "" {
				return nil, fmt.Errorf("%w: band %d requires a target pool", ErrInvalidConfiguration, b.ID)
			}
		}
	}

	if offCount > 1 {
		return nil, fmt.Errorf("%w: more than one off band", ErrInvalidConfiguration)
	}
	if championCount > 1 {
		return nil, fmt.Errorf("%w: more than one champion band", ErrInvalidConfiguration)
	}

	return &Table{bands: sorted, byID: byID}, nil
}

// Match returns the unique band containing price. Prices below the lowest
// bound or above the highest bound clamp to the boundary band, so any
// finite price matches.
func (t *Table) Match(price decimal.Decimal) PriceBand {
	for _, b := range t.bands {
		if b.Contains(price) {
			return b
		}
	}
	lowest := t.bands[0]
	if lowest.MinPrice != nil && price.LessThan(*lowest.MinPrice) {
		return lowest
	}
	return t.bands[len(t.bands)-1]
}

// ByID looks a band up by identifier.
func (t *Table) ByID(id int64) (PriceBand, bool) {
	b, ok := t.byID[id]
	return b, ok
}

// Compare orders two bands by expensiveness: negative when a is cheaper
// than b, zero when equal, positive when a is more expensive.
func (t *Table) Compare(aID, bID int64) (int, error) {
	a, ok := t.byID[aID]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrUnknownBand, aID)
	}
	b, ok := t.byID[bID]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrUnknownBand, bID)
	}
	return a.SortOrder - b.SortOrder, nil
}

// Bands returns the bands in ascending price order.
func (t *Table) Bands() []PriceBand {
	out := make([]PriceBand, len(t.bands))
	copy(out, t.bands)
	return out
}
