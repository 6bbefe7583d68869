package clock

import "math"

// TemporalConfig tunes how far a location clock may trail the world clock and
// how aggressively the gap is closed.
type TemporalConfig struct {
	EpsilonMs           int64
	SlowThresholdMs     int64
	CompressThresholdMs int64
	DriftRate           float64
	WaitMaxStepMs       int64
	SlowMaxStepMs       int64
}

// DefaultTemporalConfig returns the standard reconciliation tunables.
func DefaultTemporalConfig() TemporalConfig {
	return TemporalConfig{
		EpsilonMs:           250,
		SlowThresholdMs:     2000,
		CompressThresholdMs: 60000,
		DriftRate:           0.25,
		WaitMaxStepMs:       500,
		SlowMaxStepMs:       5000,
	}
}

// Reconciliation modes, in order of increasing lag.
const (
	ModeNone = "none"
	ModeWait = "wait"
	ModeSlow = "slow"
	ModeJump = "jump"
)

// reconcileStep picks the advancement step for a location trailing the world
// clock by lag milliseconds. The step never lowers an anchor and never pushes
// it past the world tick.
func reconcileStep(lag int64, cfg TemporalConfig) (step int64, mode string) {
	switch {
	case lag <= cfg.EpsilonMs:
		return 0, ModeNone
	case lag <= cfg.SlowThresholdMs:
		step = lag
		if cfg.WaitMaxStepMs > 0 && step > cfg.WaitMaxStepMs {
			step = cfg.WaitMaxStepMs
		}
		return step, ModeWait
	case lag <= cfg.CompressThresholdMs:
		step = int64(math.Round(float64(lag) * cfg.DriftRate))
		if cfg.SlowMaxStepMs > 0 && step > cfg.SlowMaxStepMs {
			step = cfg.SlowMaxStepMs
		}
		if step < 1 {
			step = 1
		}
		return step, ModeSlow
	default:
		// Too far behind to drip-feed: jump straight to the world tick.
		return lag, ModeJump
	}
}
