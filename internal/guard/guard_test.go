package guard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/framelog"
)

// fakeSource serves a fixed frame slice through the FrameSource interface.
type fakeSource struct {
	frames    []framelog.Frame
	artifacts []string
}

func (f *fakeSource) Count() (int64, error) {
	return int64(len(f.frames)), nil
}

func (f *fakeSource) Latest() (framelog.Frame, error) {
	if len(f.frames) == 0 {
		return framelog.Frame{}, framelog.ErrNotFound
	}
	return f.frames[len(f.frames)-1], nil
}

func (f *fakeSource) FrameAt(seq int64) (framelog.Frame, error) {
	for _, fr := range f.frames {
		if fr.Seq == seq {
			return fr, nil
		}
	}
	return framelog.Frame{}, framelog.ErrNotFound
}

func (f *fakeSource) FramesBack(n int) ([]framelog.Frame, error) {
	if n <= 0 || len(f.frames) == 0 {
		return nil, nil
	}
	start := len(f.frames) - n
	if start < 0 {
		start = 0
	}
	return f.frames[start:], nil
}

func (f *fakeSource) CrystallizedBefore(seq int64) ([]string, error) {
	return f.artifacts, nil
}

// onehotEmbedder gives every distinct text an orthogonal vector, so pairwise
// similarity is 0 for different texts and 1 for identical ones. The guard
// embeds from concurrent checks, so the index is locked.
type onehotEmbedder struct {
	mu    sync.Mutex
	index map[string]int
}

func (e *onehotEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		e.index = make(map[string]int)
	}
	i, ok := e.index[text]
	if !ok {
		i = len(e.index)
		e.index[text] = i
	}
	vec := make([]float32, 64)
	vec[i%64] = 1
	return vec, nil
}

// constEmbedder returns the same vector for every text: maximum similarity
// everywhere.
type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func variedFrames(n int, succeeded bool) []framelog.Frame {
	frames := make([]framelog.Frame, n)
	for i := range frames {
		frames[i] = framelog.Frame{
			Seq:            int64(i + 1),
			ActionSummary:  fmt.Sprintf("explored distinct strategy number %d", i),
			DomainTag:      "algorithms",
			Difficulty:     "medium",
			Succeeded:      succeeded,
			DiversityScore: 0.5,
		}
	}
	return frames
}

func TestCheapEntropyZerosEntropyContribution(t *testing.T) {
	frames := variedFrames(10, false)
	current := frames[len(frames)-1]
	g := New(&fakeSource{frames: frames}, &onehotEmbedder{}, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{
		Emerged:    false,
		Confidence: 0.2,
		Unclamped:  0.2,
		Reasons:    []string{arbiter.ReasonEntropyUp},
	}
	verdict.Bundle.EntropyDelta = 0.3

	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !hasFlag(report.Flags, FlagCheapEntropy) {
		t.Fatalf("expected cheap_entropy flag, got %v", report.Flags)
	}
	// The entropy signal contributed 0.2; with it removed and the remaining
	// multipliers applied, nothing is left.
	if report.FinalConfidence != 0 {
		t.Fatalf("expected zero final confidence, got %f", report.FinalConfidence)
	}
	if report.FinalEmerged {
		t.Fatal("must not emerge on cheap entropy alone")
	}
}

func TestCheapEntropyKeepsClampedSurplus(t *testing.T) {
	frames := variedFrames(10, false)
	current := frames[len(frames)-1]
	g := New(&fakeSource{frames: frames}, &onehotEmbedder{}, nil, nil, DefaultConfig())

	// Four unit signals plus the crystallization bonus: clamped at 1 with
	// 0.3 of surplus. Removing the entropy share must consume the surplus,
	// not dent the clamped score.
	gamed := arbiter.Verdict{
		Emerged:    true,
		Confidence: 1,
		Unclamped:  1.3,
		Reasons:    []string{arbiter.ReasonEntropyUp, arbiter.ReasonCapability, arbiter.ReasonBeliefShift},
	}
	gamed.Bundle.EntropyDelta = 0.3

	clean := gamed
	clean.Reasons = nil // entropy signal never fired; no contribution to remove

	gamedReport, err := g.Evaluate(context.Background(), current, gamed)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	cleanReport, err := g.Evaluate(context.Background(), current, clean)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !hasFlag(gamedReport.Flags, FlagCheapEntropy) {
		t.Fatalf("expected cheap_entropy flag, got %v", gamedReport.Flags)
	}
	// cheap_entropy only: one flag (penalty 0.7), gaming score 0.2,
	// adjusted confidence stays 1.
	want := 1.0 * 0.7 * (1 - 0.2)
	if math.Abs(gamedReport.FinalConfidence-want) > 1e-9 {
		t.Fatalf("expected final confidence %f, got %f", want, gamedReport.FinalConfidence)
	}
	if gamedReport.FinalConfidence != cleanReport.FinalConfidence {
		t.Fatalf("removing a surplus-covered signal changed the outcome: %f vs %f",
			gamedReport.FinalConfidence, cleanReport.FinalConfidence)
	}
}

func TestSemanticCycleOverride(t *testing.T) {
	frames := variedFrames(10, false)
	current := frames[len(frames)-1]
	g := New(&fakeSource{frames: frames}, constEmbedder{}, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{Emerged: true, Confidence: 0.7}
	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !report.SemanticCycleOverride {
		t.Fatal("expected semantic cycle override with identical embeddings")
	}
	if !hasFlag(report.Flags, FlagSemanticCycle) {
		t.Fatalf("expected semantic_cycle flag, got %v", report.Flags)
	}
	if report.FinalEmerged {
		t.Fatal("override must veto emergence regardless of confidence")
	}
}

func TestGamingDetectedFromStackedFlags(t *testing.T) {
	frames := []framelog.Frame{
		{Seq: 1, ActionSummary: "improve the cache layout"},
		{Seq: 2, ActionSummary: "really improve the cache layout"},
		{Seq: 3, ActionSummary: "optimize the parser loop"},
		{Seq: 4, ActionSummary: "enhance the parser loop"},
	}
	current := frames[len(frames)-1]
	g := New(&fakeSource{frames: frames}, constEmbedder{}, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{Emerged: true, Confidence: 0.9}
	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// modifier_insertion (0.2) + synonym_cycling (0.2) + semantic_cycle (0.3)
	for _, want := range []Flag{FlagModifierInsertion, FlagSynonymCycling, FlagSemanticCycle} {
		if !hasFlag(report.Flags, want) {
			t.Fatalf("expected %s, got %v", want, report.Flags)
		}
	}
	if report.GamingScore < 0.69 || report.GamingScore > 0.71 {
		t.Fatalf("expected gaming score 0.7, got %f", report.GamingScore)
	}
	if !hasFlag(report.Flags, FlagGamingDetected) {
		t.Fatalf("expected gaming_detected above threshold, got %v", report.Flags)
	}
	if report.FinalEmerged {
		t.Fatal("expected veto")
	}
}

func TestQualityGateRejectsVagueArtifact(t *testing.T) {
	frames := variedFrames(10, false)
	current := frames[len(frames)-1]
	current.CrystallizedArtifact = "best practices" // vague and short
	g := New(&fakeSource{frames: frames}, nil, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{Emerged: true, Confidence: 0.7}
	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Quality == nil {
		t.Fatal("expected quality breakdown for crystallized frame")
	}
	if report.Quality.Accepted {
		t.Fatalf("expected rejection, composite %f", report.Quality.Composite)
	}
	if !hasFlag(report.Flags, FlagLowQuality) {
		t.Fatalf("expected low_quality_artifact, got %v", report.Flags)
	}
	if report.QualityScore >= DefaultConfig().QualityGate {
		t.Fatalf("quality score %f should be below the gate", report.QualityScore)
	}
}

func TestQualityGateAcceptsConcreteArtifact(t *testing.T) {
	frames := variedFrames(8, true)
	current := frames[len(frames)-1]
	current.CrystallizedArtifact = "when cache misses spike, prefer batch loading of the index"
	g := New(&fakeSource{frames: frames}, nil, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{
		Emerged:    true,
		Confidence: 0.7,
		Reasons:    []string{arbiter.ReasonCrystallized},
	}
	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Quality == nil || !report.Quality.Accepted {
		t.Fatalf("expected acceptance, got %+v", report.Quality)
	}
	if !report.FinalEmerged {
		t.Fatalf("expected final emergence, confidence %f flags %v",
			report.FinalConfidence, report.Flags)
	}
}

func TestEmbedderAbsenceDegradesGracefully(t *testing.T) {
	frames := variedFrames(10, false)
	current := frames[len(frames)-1]
	g := New(&fakeSource{frames: frames}, nil, nil, nil, DefaultConfig())

	verdict := arbiter.Verdict{Emerged: true, Confidence: 0.7}
	verdict.Bundle.EntropyDelta = 0.3
	verdict.Reasons = []string{arbiter.ReasonEntropyUp}

	report, err := g.Evaluate(context.Background(), current, verdict)
	if err != nil {
		t.Fatalf("Evaluate must not fail without an embedder: %v", err)
	}
	if report.Coherence.OK() {
		t.Fatal("coherence must be unavailable, not computed")
	}
	// No embedding-bound flag may fire blind.
	if hasFlag(report.Flags, FlagCheapEntropy) || hasFlag(report.Flags, FlagSemanticCycle) {
		t.Fatalf("embedding-bound flags without embedder: %v", report.Flags)
	}
	if !report.FinalEmerged {
		t.Fatalf("expected emergence to pass through, confidence %f", report.FinalConfidence)
	}
}

func hasFlag(flags []Flag, want Flag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
