package arbiter

import (
	"fmt"

	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/signals"
)

// UnitSignalWeight is the confidence share contributed by each of the five
// independent positive signals. The guard subtracts it from the unclamped
// confidence when it disqualifies a signal.
const UnitSignalWeight = 1.0 / 5

// #region arbiter
// Arbiter combines extracted signals into a provisional emergence verdict.
// It keeps no state between evaluations beyond configuration.
type Arbiter struct {
	log       signals.FrameReader
	extractor *signals.Extractor
	custom    CustomSignal
	config    Config
}

// New creates an Arbiter. custom may be nil (the fifth signal slot stays
// inert).
func New(log signals.FrameReader, extractor *signals.Extractor, custom CustomSignal, config Config) *Arbiter {
	return &Arbiter{log: log, extractor: extractor, custom: custom, config: config}
}

// #endregion arbiter

// #region evaluate
// Evaluate produces the provisional verdict for the current frame.
//
// Order matters: the cold-start guard and the circular hard veto run before
// any positive signal is considered. An empty reason list with emerged=false
// is the correct result of "no positive signal this cycle", not an error.
func (a *Arbiter) Evaluate(current framelog.Frame) (Verdict, error) {
	count, err := a.log.Count()
	if err != nil {
		return Verdict{}, fmt.Errorf("frame count: %w", err)
	}
	if count < a.config.MinCyclesBeforeCheck {
		return Verdict{
			Reasons:    []string{ReasonTooEarly},
			RawMetrics: map[string]float64{"frame_count": float64(count)},
		}, nil
	}

	bundle, err := a.extractor.Bundle(current, signals.BundleInput{
		EntropyWindow:     a.config.EntropyWindow,
		CircularWindow:    a.config.CircularWindow,
		CircularTolerance: a.config.CircularTolerance,
		BeliefLookback:    a.config.BeliefLookback,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("extract signals: %w", err)
	}

	metrics := map[string]float64{
		"entropy_delta":     bundle.EntropyDelta,
		"belief_diff_ratio": bundle.BeliefDiffRatio,
	}

	// Hard veto: a circular window overrides every other signal.
	if bundle.IsCircular {
		return Verdict{
			Reasons:    []string{ReasonCircular},
			RawMetrics: metrics,
			Bundle:     bundle,
		}, nil
	}

	const unit = UnitSignalWeight
	var confidence float64
	var reasons []string

	if current.CrystallizedArtifact != "" {
		confidence += unit
		reasons = append(reasons, ReasonCrystallized)
	}
	if bundle.EntropyDelta > a.config.EntropyThreshold {
		confidence += unit
		reasons = append(reasons, ReasonEntropyUp)
	}
	if bundle.CapabilityGained {
		confidence += unit
		reasons = append(reasons, ReasonCapability)
	}
	if bundle.BeliefDiffRatio > a.config.BeliefDiffThreshold {
		confidence += unit
		reasons = append(reasons, ReasonBeliefShift)
	}
	if a.custom != nil {
		if positive, label := a.custom(current, bundle); positive {
			confidence += unit
			reasons = append(reasons, "custom:"+label)
		}
	}

	// Crystallization bonus can push past the unit signals; clamp after,
	// keeping the unclamped value for the guard.
	if current.CrystallizedArtifact != "" {
		confidence += a.config.CrystallizationWeight
	}
	unclamped := confidence
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	metrics["confidence"] = confidence
	return Verdict{
		Emerged:    confidence >= a.config.EmergenceThreshold,
		Confidence: confidence,
		Unclamped:  unclamped,
		Reasons:    reasons,
		RawMetrics: metrics,
		Bundle:     bundle,
	}, nil
}

// #endregion evaluate
