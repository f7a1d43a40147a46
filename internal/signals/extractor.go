package signals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// normalizePrefixLen bounds the normalized action summary used for
// repetition counting, so trailing filler cannot defeat the match.
const normalizePrefixLen = 80

// circularTolerance is the default repeat count that flags a loop.
const circularTolerance = 3

// #region extractor

// Extractor computes cheap, deterministic metrics from frame history.
// All methods are pure given frame data; insufficient history yields
// neutral zero values rather than an error.
type Extractor struct {
	log FrameReader
}

// NewExtractor creates an Extractor over the given frame reader.
func NewExtractor(log FrameReader) *Extractor {
	return &Extractor{log: log}
}

// #endregion extractor

// #region entropy-delta

// EntropyDelta compares mean diversity of the most recent window/2 frames
// against the window/2 frames before them. Positive means diversity is
// rising. Short history returns 0.
func (e *Extractor) EntropyDelta(window int) (float64, error) {
	if window < 2 {
		return 0, nil
	}
	frames, err := e.log.FramesBack(window)
	if err != nil {
		return 0, fmt.Errorf("entropy delta: %w", err)
	}
	if len(frames) < window {
		return 0, nil
	}
	half := window / 2
	older := frames[:len(frames)-half]
	recent := frames[len(frames)-half:]
	return meanDiversity(recent) - meanDiversity(older[len(older)-half:]), nil
}

func meanDiversity(frames []framelog.Frame) float64 {
	if len(frames) == 0 {
		return 0
	}
	var sum float64
	for _, f := range frames {
		sum += f.DiversityScore
	}
	return sum / float64(len(frames))
}

// #endregion entropy-delta

// #region circular

// CircularPattern counts normalized action summaries over the last window
// frames. Three or more occurrences of the same normalized summary flag the
// window as circular.
func (e *Extractor) CircularPattern(window int) (CircularResult, error) {
	return e.CircularPatternTolerance(window, circularTolerance)
}

// CircularPatternTolerance is CircularPattern with an explicit repeat
// tolerance, exposed for configuration.
func (e *Extractor) CircularPatternTolerance(window, tolerance int) (CircularResult, error) {
	frames, err := e.log.FramesBack(window)
	if err != nil {
		return CircularResult{}, fmt.Errorf("circular pattern: %w", err)
	}

	counts := make(map[string]int, len(frames))
	for _, f := range frames {
		counts[NormalizeSummary(f.ActionSummary)]++
	}

	result := CircularResult{}
	for norm, n := range counts {
		if norm == "" || n < tolerance {
			continue
		}
		result.IsCircular = true
		if len(result.RepeatedActionSamples) < 2 {
			result.RepeatedActionSamples = append(result.RepeatedActionSamples, norm)
		}
	}
	return result, nil
}

// NormalizeSummary case-folds an action summary and truncates it to a fixed
// prefix for repetition counting.
func NormalizeSummary(summary string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(summary)), " ")
	if len(norm) > normalizePrefixLen {
		norm = norm[:normalizePrefixLen]
	}
	return norm
}

// #endregion circular

// #region belief-capability

// BeliefCapabilityDelta compares two frames' belief identifier sets as a
// Jaccard distance and reports whether the current frame gained any
// capability. Two empty belief sets compare as identical (ratio 0).
func BeliefCapabilityDelta(current, past framelog.Frame) (beliefDiffRatio float64, capabilityGained bool) {
	union := make(map[string]struct{}, len(current.BeliefDelta)+len(past.BeliefDelta))
	var intersection int
	for k := range current.BeliefDelta {
		union[k] = struct{}{}
		if _, ok := past.BeliefDelta[k]; ok {
			intersection++
		}
	}
	for k := range past.BeliefDelta {
		union[k] = struct{}{}
	}

	if len(union) > 0 {
		beliefDiffRatio = 1 - float64(intersection)/float64(len(union))
	}
	return beliefDiffRatio, len(current.CapabilityDelta) > 0
}

// #endregion belief-capability

// #region bundle

// BundleInput names the windows a bundle is computed over.
type BundleInput struct {
	EntropyWindow     int
	CircularWindow    int
	CircularTolerance int
	BeliefLookback    int64 // compare beliefs against the frame this many iterations back
}

// Bundle assembles the full signal bundle for the current frame. Missing
// history degrades each signal to its neutral value.
func (e *Extractor) Bundle(current framelog.Frame, in BundleInput) (Bundle, error) {
	var b Bundle

	entropy, err := e.EntropyDelta(in.EntropyWindow)
	if err != nil {
		return Bundle{}, err
	}
	b.EntropyDelta = entropy

	circ, err := e.CircularPatternTolerance(in.CircularWindow, in.CircularTolerance)
	if err != nil {
		return Bundle{}, err
	}
	b.IsCircular = circ.IsCircular
	b.RepeatedActionSamples = circ.RepeatedActionSamples

	past, err := e.log.FrameAt(current.Seq - in.BeliefLookback)
	switch {
	case err == nil:
		b.BeliefDiffRatio, b.CapabilityGained = BeliefCapabilityDelta(current, past)
	case errors.Is(err, framelog.ErrNotFound):
		// not enough history for the lookback; capability presence still counts
		b.CapabilityGained = len(current.CapabilityDelta) > 0
	default:
		return Bundle{}, fmt.Errorf("belief lookback: %w", err)
	}
	return b, nil
}

// #endregion bundle
