package signals

import (
	"testing"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// fakeLog serves a fixed frame slice through the FrameReader interface.
type fakeLog struct {
	frames []framelog.Frame
}

func (f *fakeLog) Count() (int64, error) {
	return int64(len(f.frames)), nil
}

func (f *fakeLog) Latest() (framelog.Frame, error) {
	if len(f.frames) == 0 {
		return framelog.Frame{}, framelog.ErrNotFound
	}
	return f.frames[len(f.frames)-1], nil
}

func (f *fakeLog) FrameAt(seq int64) (framelog.Frame, error) {
	for _, fr := range f.frames {
		if fr.Seq == seq {
			return fr, nil
		}
	}
	return framelog.Frame{}, framelog.ErrNotFound
}

func (f *fakeLog) FramesBack(n int) ([]framelog.Frame, error) {
	if n <= 0 || len(f.frames) == 0 {
		return nil, nil
	}
	start := len(f.frames) - n
	if start < 0 {
		start = 0
	}
	return f.frames[start:], nil
}

func diversityFrames(scores ...float64) []framelog.Frame {
	frames := make([]framelog.Frame, len(scores))
	for i, s := range scores {
		frames[i] = framelog.Frame{Seq: int64(i + 1), DiversityScore: s}
	}
	return frames
}

func TestEntropyDeltaRising(t *testing.T) {
	log := &fakeLog{frames: diversityFrames(0.2, 0.2, 0.8, 0.8)}
	e := NewExtractor(log)

	delta, err := e.EntropyDelta(4)
	if err != nil {
		t.Fatalf("EntropyDelta: %v", err)
	}
	if delta < 0.59 || delta > 0.61 {
		t.Fatalf("expected delta ~0.6, got %f", delta)
	}
}

func TestEntropyDeltaFalling(t *testing.T) {
	log := &fakeLog{frames: diversityFrames(0.9, 0.9, 0.1, 0.1)}
	e := NewExtractor(log)

	delta, err := e.EntropyDelta(4)
	if err != nil {
		t.Fatalf("EntropyDelta: %v", err)
	}
	if delta > -0.79 {
		t.Fatalf("expected strongly negative delta, got %f", delta)
	}
}

func TestEntropyDeltaShortHistory(t *testing.T) {
	log := &fakeLog{frames: diversityFrames(0.5, 0.5)}
	e := NewExtractor(log)

	delta, err := e.EntropyDelta(10)
	if err != nil {
		t.Fatalf("EntropyDelta: %v", err)
	}
	if delta != 0 {
		t.Fatalf("expected neutral 0 on short history, got %f", delta)
	}
}

func TestCircularPattern(t *testing.T) {
	frames := []framelog.Frame{
		{Seq: 1, ActionSummary: "Refine the  cache policy"},
		{Seq: 2, ActionSummary: "try a new index layout"},
		{Seq: 3, ActionSummary: "refine the cache policy"},
		{Seq: 4, ActionSummary: "REFINE THE CACHE POLICY"},
		{Seq: 5, ActionSummary: "measure allocation rate"},
	}
	e := NewExtractor(&fakeLog{frames: frames})

	res, err := e.CircularPattern(5)
	if err != nil {
		t.Fatalf("CircularPattern: %v", err)
	}
	if !res.IsCircular {
		t.Fatal("expected circular: 3 normalized duplicates in window")
	}
	if len(res.RepeatedActionSamples) == 0 {
		t.Fatal("expected at least one repeated sample")
	}
	if res.RepeatedActionSamples[0] != "refine the cache policy" {
		t.Fatalf("unexpected sample %q", res.RepeatedActionSamples[0])
	}
}

func TestCircularPatternBelowTolerance(t *testing.T) {
	frames := []framelog.Frame{
		{Seq: 1, ActionSummary: "refine the cache policy"},
		{Seq: 2, ActionSummary: "refine the cache policy"},
		{Seq: 3, ActionSummary: "measure allocation rate"},
	}
	e := NewExtractor(&fakeLog{frames: frames})

	res, err := e.CircularPattern(3)
	if err != nil {
		t.Fatalf("CircularPattern: %v", err)
	}
	if res.IsCircular {
		t.Fatal("two repeats must not flag circular at tolerance 3")
	}
}

func TestBeliefCapabilityDelta(t *testing.T) {
	current := framelog.Frame{
		BeliefDelta:     map[string]string{"a": "1", "b": "2"},
		CapabilityDelta: map[string]string{"parse": "learned"},
	}
	past := framelog.Frame{BeliefDelta: map[string]string{"c": "3"}}

	ratio, gained := BeliefCapabilityDelta(current, past)
	if ratio != 1 {
		t.Fatalf("expected ratio 1 for disjoint belief sets, got %f", ratio)
	}
	if !gained {
		t.Fatal("expected capability gained")
	}

	ratio, gained = BeliefCapabilityDelta(past, past)
	if ratio != 0 {
		t.Fatalf("expected ratio 0 for identical sets, got %f", ratio)
	}
	if gained {
		t.Fatal("no capability delta present")
	}

	// Two empty sets compare as identical, not maximally different.
	ratio, _ = BeliefCapabilityDelta(framelog.Frame{}, framelog.Frame{})
	if ratio != 0 {
		t.Fatalf("expected ratio 0 for two empty sets, got %f", ratio)
	}
}

func TestBundleWithoutLookbackHistory(t *testing.T) {
	frames := diversityFrames(0.5, 0.5, 0.5)
	current := framelog.Frame{
		Seq:             3,
		CapabilityDelta: map[string]string{"new_skill": "x"},
	}
	e := NewExtractor(&fakeLog{frames: frames})

	b, err := e.Bundle(current, BundleInput{
		EntropyWindow:     2,
		CircularWindow:    3,
		CircularTolerance: 3,
		BeliefLookback:    100,
	})
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if b.BeliefDiffRatio != 0 {
		t.Fatalf("expected neutral belief ratio without lookback frame, got %f", b.BeliefDiffRatio)
	}
	if !b.CapabilityGained {
		t.Fatal("capability presence must still count without lookback history")
	}
}

func TestNormalizeSummaryPrefix(t *testing.T) {
	long := "word "
	for len(long) < 300 {
		long += "word "
	}
	if got := NormalizeSummary(long); len(got) != 80 {
		t.Fatalf("expected 80-char prefix, got %d chars", len(got))
	}
}
