package strategy

import (
	"sort"

	"agile-solo-strategy/internal/band"
)

// Plan reasons carried on every device action.
const (
	PlanReasonOffBand           = "off-band"
	PlanReasonBandMode          = "band-mode"
	PlanReasonClassUnmanaged    = "class-unmanaged"
	PlanReasonChampionMode      = "champion-mode"
	PlanReasonChampionExclusive = "champion-exclusive"
)

// DeviceAction is the desired target for one device. Nil PoolID means
// power off; nil Mode means leave tuning untouched.
type DeviceAction struct {
	DeviceID string  `json:"deviceId"`
	PoolID   *string `json:"poolId"`
	Mode     *string `json:"mode"`
	Reason   string  `json:"reason"`
}

// Plan is the complete per-device action set for one cycle. It carries
// no timestamps so identical committed state yields identical plans, and
// re-issuing it must be a no-op for the dispatcher.
type Plan struct {
	BandID  int64          `json:"bandId"`
	Actions []DeviceAction `json:"actions"`
}

// BuildPlan turns the committed band and champion state into a concrete
// plan covering every enrolled device. classes maps device id to device
// class; a device whose class has no configured mode is left externally
// managed rather than failing the cycle.
func BuildPlan(committed band.PriceBand, enrolled []string, classes map[string]string, champion *string) Plan {
	devices := append([]string(nil), enrolled...)
	sort.Strings(devices)

	actions := make([]DeviceAction, 0, len(devices))
	for _, id := range devices {
		actions = append(actions, planDevice(committed, id, classes[id], champion))
	}
	return Plan{BandID: committed.ID, Actions: actions}
}

func planDevice(b band.PriceBand, deviceID, class string, champion *string) DeviceAction {
	switch {
	case b.IsOff():
		return DeviceAction{DeviceID: deviceID, Reason: PlanReasonOffBand}

	case b.IsChampion():
		if champion != nil && *champion == deviceID {
			pool := b.TargetPoolID
			action := DeviceAction{DeviceID: deviceID, PoolID: &pool, Reason: PlanReasonChampionMode}
			if mode, ok := b.ClassModes[class]; ok {
				action.Mode = &mode
			}
			return action
		}
		return DeviceAction{DeviceID: deviceID, Reason: PlanReasonChampionExclusive}

	default:
		mode, ok := b.ClassModes[class]
		if !ok {
			return DeviceAction{DeviceID: deviceID, Reason: PlanReasonClassUnmanaged}
		}
		pool := b.TargetPoolID
		return DeviceAction{DeviceID: deviceID, PoolID: &pool, Mode: &mode, Reason: PlanReasonBandMode}
	}
}
