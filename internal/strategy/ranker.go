package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EfficiencySample is the latest telemetry reading for a device.
type EfficiencySample struct {
	DeviceID         string
	WattsPerTerahash decimal.Decimal
	MeasuredAt       time.Time
}

// Ranker orders devices by measured efficiency for champion selection.
type Ranker struct {
	// FreshnessWindow bounds sample age; older samples make the device
	// unavailable for ranking.
	FreshnessWindow time.Duration
}

// Rank returns device ids most efficient first. Devices without a fresh
// sample are excluded. Ties break on device id so selection is
// deterministic across runs. An empty result means no champion is
// available.
func (r Ranker) Rank(samples []EfficiencySample, now time.Time) []string {
	fresh := make([]EfficiencySample, 0, len(samples))
	for _, s := range samples {
		if r.FreshnessWindow > 0 && now.Sub(s.MeasuredAt) > r.FreshnessWindow {
			continue
		}
		fresh = append(fresh, s)
	}

	sort.Slice(fresh, func(i, j int) bool {
		cmp := fresh[i].WattsPerTerahash.Cmp(fresh[j].WattsPerTerahash)
		if cmp != 0 {
			return cmp < 0
		}
		return fresh[i].DeviceID < fresh[j].DeviceID
	})

	ranked := make([]string, len(fresh))
	for i, s := range fresh {
		ranked[i] = s.DeviceID
	}
	return ranked
}
