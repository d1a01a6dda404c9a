package band

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func fourBands() []PriceBand {
	return []PriceBand{
		{ID: 1, SortOrder: 1, MaxPrice: dec("10"), Kind: KindNormal, TargetPoolID: "pool-a"},
		{ID: 2, SortOrder: 2, MinPrice: dec("10"), MaxPrice: dec("20"), Kind: KindNormal, TargetPoolID: "pool-b"},
		{ID: 3, SortOrder: 3, MinPrice: dec("20"), MaxPrice: dec("30"), Kind: KindChampion, TargetPoolID: "pool-c"},
		{ID: 4, SortOrder: 4, MinPrice: dec("30"), Kind: KindOff},
	}
}

func TestNewTableValid(t *testing.T) {
	table, err := NewTable(fourBands())
	if err != nil {
		t.Fatalf("valid band list rejected: %v", err)
	}
	if len(table.Bands()) != 4 {
		t.Fatalf("expected 4 bands, got %d", len(table.Bands()))
	}
}

func TestNewTableRejectsEmpty(t *testing.T) {
	if _, err := NewTable(nil); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}

func TestNewTableRejectsGap(t *testing.T) {
	bands := fourBands()
	bands[1].MinPrice = dec("11")
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for gap, got %v", err)
	}
}

func TestNewTableRejectsOverlap(t *testing.T) {
	bands := fourBands()
	bands[2].MinPrice = dec("19")
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for overlap, got %v", err)
	}
}

func TestNewTableRejectsDuplicateSortOrder(t *testing.T) {
	bands := fourBands()
	bands[1].SortOrder = 1
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNewTableRejectsSecondOffBand(t *testing.T) {
	bands := fourBands()
	bands[2] = PriceBand{ID: 3, SortOrder: 3, MinPrice: dec("20"), MaxPrice: dec("30"), Kind: KindOff}
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for two off bands, got %v", err)
	}
}

func TestNewTableRejectsSecondChampionBand(t *testing.T) {
	bands := fourBands()
	bands[1].Kind = KindChampion
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for two champion bands, got %v", err)
	}
}

func TestNewTableRejectsMissingPool(t *testing.T) {
	bands := fourBands()
	bands[0].TargetPoolID = ""
	if _, err := NewTable(bands); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for missing pool, got %v", err)
	}
}

func TestMatchCoversEveryFinitePrice(t *testing.T) {
	table, err := NewTable(fourBands())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		price string
		want  int64
	}{
		{"-1000000", 1},
		{"0", 1},
		{"9.999", 1},
		{"10", 2}, // lower bound inclusive
		{"19.999", 2},
		{"20", 3},
		{"29.999", 3},
		{"30", 4}, // upper bound exclusive
		{"1000000", 4},
	}
	for _, tc := range cases {
		got := table.Match(decimal.RequireFromString(tc.price))
		if got.ID != tc.want {
			t.Errorf("price %s matched band %d, want %d", tc.price, got.ID, tc.want)
		}
	}
}

func TestMatchClampsWhenEdgesAreBounded(t *testing.T) {
	bands := []PriceBand{
		{ID: 1, SortOrder: 1, MinPrice: dec("5"), MaxPrice: dec("10"), Kind: KindNormal, TargetPoolID: "pool-a"},
		{ID: 2, SortOrder: 2, MinPrice: dec("10"), MaxPrice: dec("20"), Kind: KindOff},
	}
	table, err := NewTable(bands)
	if err != nil {
		t.Fatal(err)
	}

	if got := table.Match(decimal.NewFromInt(1)); got.ID != 1 {
		t.Fatalf("below-range price should clamp to lowest band, got %d", got.ID)
	}
	if got := table.Match(decimal.NewFromInt(99)); got.ID != 2 {
		t.Fatalf("above-range price should clamp to highest band, got %d", got.ID)
	}
}

func TestCompare(t *testing.T) {
	table, err := NewTable(fourBands())
	if err != nil {
		t.Fatal(err)
	}

	if c, err := table.Compare(4, 1); err != nil || c <= 0 {
		t.Fatalf("off band should rank more expensive: cmp=%d err=%v", c, err)
	}
	if c, err := table.Compare(1, 3); err != nil || c >= 0 {
		t.Fatalf("cheap band should rank cheaper: cmp=%d err=%v", c, err)
	}
	if _, err := table.Compare(1, 99); !errors.Is(err, ErrUnknownBand) {
		t.Fatalf("expected ErrUnknownBand, got %v", err)
	}
}

func TestDefaultBandsValidate(t *testing.T) {
	bands := DefaultBands()
	for i := range bands {
		bands[i].ID = int64(i + 1)
	}
	if _, err := NewTable(bands); err != nil {
		t.Fatalf("default bands must validate: %v", err)
	}
}
