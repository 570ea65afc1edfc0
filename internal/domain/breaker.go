package domain

import "time"

const (
	MaxSafeLiveOrders    = 10
	EmergencyCooldownMin = 5 * time.Second
	EmergencyCooldownMax = 60 * time.Second
)

// BreakerVerdict is the outcome of evaluating the breaker for one decision.
type BreakerVerdict int

const (
	BreakerHealthy     BreakerVerdict = iota
	BreakerReset                      // healthy again after a trip
	BreakerTripped                    // cancel everything now
	BreakerCoolingDown                // over the ceiling, but a trip is still in effect
)

func (v BreakerVerdict) String() string {
	switch v {
	case BreakerReset:
		return "reset"
	case BreakerTripped:
		return "trip"
	case BreakerCoolingDown:
		return "cooling_down"
	default:
		return "healthy"
	}
}

// EmergencyBreaker forces a cancel-all when too many orders are live at once.
// Consecutive trips double the cooldown up to EmergencyCooldownMax.
type EmergencyBreaker struct {
	LastTriggered *time.Time
	Cooldown      time.Duration
	Trips         int
}

// NewEmergencyBreaker returns a breaker in the Normal state.
func NewEmergencyBreaker() EmergencyBreaker {
	return EmergencyBreaker{Cooldown: EmergencyCooldownMin}
}

// Tripped reports whether a trip is still on record.
func (b *EmergencyBreaker) Tripped() bool { return b.LastTriggered != nil }

// Remaining returns how much of the current cooldown is left at now.
func (b *EmergencyBreaker) Remaining(now time.Time) time.Duration {
	if b.LastTriggered == nil {
		return 0
	}
	left := b.Cooldown - now.Sub(*b.LastTriggered)
	if left < 0 {
		return 0
	}
	return left
}

// Evaluate advances the state machine for a reading of liveCount orders.
//
// The first trip arms the minimum cooldown; each further trip while still
// unhealthy doubles it. A healthy reading after a trip resets to the minimum.
func (b *EmergencyBreaker) Evaluate(liveCount int, now time.Time) BreakerVerdict {
	if liveCount > MaxSafeLiveOrders {
		if b.LastTriggered != nil && now.Sub(*b.LastTriggered) < b.Cooldown {
			return BreakerCoolingDown
		}
		if b.LastTriggered == nil {
			b.Cooldown = EmergencyCooldownMin
		} else {
			b.Cooldown = min(b.Cooldown*2, EmergencyCooldownMax)
		}
		b.LastTriggered = &now
		b.Trips++
		return BreakerTripped
	}
	if b.LastTriggered != nil {
		b.LastTriggered = nil
		b.Cooldown = EmergencyCooldownMin
		return BreakerReset
	}
	return BreakerHealthy
}
