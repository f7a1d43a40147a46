package arbiter

import (
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region config
// Config holds arbitration thresholds. Every weight here is a heuristic
// tunable, not a contract.
type Config struct {
	MinCyclesBeforeCheck  int64   // cold-start guard
	EntropyThreshold      float64 // entropyDelta above this counts as a signal
	EmergenceThreshold    float64 // confidence at or above this emerges
	CrystallizationWeight float64 // additive bonus when an artifact is present
	EntropyWindow         int
	CircularWindow        int
	CircularTolerance     int
	BeliefLookback        int64   // frames back for the belief-shift signal
	BeliefDiffThreshold   float64 // beliefDiffRatio above this counts as a signal
}

// DefaultConfig returns the stock arbitration thresholds.
func DefaultConfig() Config {
	return Config{
		MinCyclesBeforeCheck:  50,
		EntropyThreshold:      0.1,
		EmergenceThreshold:    0.4,
		CrystallizationWeight: 0.5,
		EntropyWindow:         20,
		CircularWindow:        50,
		CircularTolerance:     3,
		BeliefLookback:        100,
		BeliefDiffThreshold:   0.3,
	}
}

// #endregion config

// #region verdict
// Reasons emitted by Evaluate.
const (
	ReasonTooEarly     = "too_early"
	ReasonCircular     = "circular"
	ReasonCrystallized = "crystallized_artifact"
	ReasonEntropyUp    = "entropy_up"
	ReasonCapability   = "capability_gained"
	ReasonBeliefShift  = "belief_shift"
)

// Verdict is the arbiter's provisional call. It must pass through the
// gaming guard before anything acts on it.
type Verdict struct {
	Emerged    bool
	Confidence float64
	// Unclamped is the confidence before the [0,1] clamp. The guard
	// recomputes from it when it removes a signal's contribution, so a
	// clamped surplus is not double-penalized.
	Unclamped  float64
	Reasons    []string
	RawMetrics map[string]float64

	// Bundle carries the extracted signals forward so the guard does not
	// recompute them.
	Bundle signals.Bundle
}

// #endregion verdict

// #region custom-signal
// CustomSignal is the fifth, collaborator-supplied signal slot. It returns
// whether the signal is positive plus a short reason label. The default is
// inert.
type CustomSignal func(current framelog.Frame, bundle signals.Bundle) (bool, string)

// #endregion custom-signal
