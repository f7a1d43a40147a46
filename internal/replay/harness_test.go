package replay

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/framelog"
)

// historyFrames builds n frames with distinct summaries.
func historyFrames(n int) []framelog.Frame {
	frames := make([]framelog.Frame, n)
	for i := range frames {
		frames[i] = framelog.Frame{
			Seq:            int64(i + 1),
			ActionSummary:  fmt.Sprintf("worked on distinct subproblem %d of the plan", i),
			DomainTag:      "planning",
			Difficulty:     "medium",
			Succeeded:      true,
			DiversityScore: 0.7,
		}
	}
	return frames
}

func TestReplayDeterminism(t *testing.T) {
	frames := historyFrames(55)
	frames[51].CrystallizedArtifact = "when subgoals conflict, prefer the one with fewer dependencies"

	first, err := Replay(context.Background(), frames, DefaultConfig())
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	second, err := Replay(context.Background(), frames, DefaultConfig())
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].FinalEmerged != second[i].FinalEmerged ||
			first[i].FinalConfidence != second[i].FinalConfidence ||
			!reflect.DeepEqual(first[i].Verdict.Reasons, second[i].Verdict.Reasons) ||
			!reflect.DeepEqual(first[i].Report.Flags, second[i].Report.Flags) {
			t.Fatalf("results diverge at index %d:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestReplayColdStartWindow(t *testing.T) {
	frames := historyFrames(55)
	results, err := Replay(context.Background(), frames, DefaultConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	s := Summarize(results)
	if s.TotalFrames != 55 {
		t.Fatalf("expected 55 frames, got %d", s.TotalFrames)
	}
	if s.TooEarly != 49 {
		t.Fatalf("expected 49 too_early frames before the 50th, got %d", s.TooEarly)
	}
}

func TestReplaySeesOnlyPriorHistory(t *testing.T) {
	// Duplicates appear only at the end; earlier frames must not be judged
	// circular by history they could not have seen.
	frames := historyFrames(55)
	for _, i := range []int{52, 53, 54} {
		frames[i].ActionSummary = "shuffle the same plan again"
	}

	results, err := Replay(context.Background(), frames, DefaultConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	for _, r := range results[:52] {
		if len(r.Verdict.Reasons) == 1 && r.Verdict.Reasons[0] == arbiter.ReasonCircular {
			t.Fatalf("premature circular verdict at seq %d", r.Seq)
		}
	}
	last := results[54]
	if len(last.Verdict.Reasons) != 1 || last.Verdict.Reasons[0] != arbiter.ReasonCircular {
		t.Fatalf("expected circular at the tail, got %v", last.Verdict.Reasons)
	}
	if last.FinalEmerged {
		t.Fatal("circular tail must not emerge")
	}
}

func TestSummarizeCountsAndFirstEmergence(t *testing.T) {
	results := []Result{
		{Seq: 1, Verdict: arbiter.Verdict{Reasons: []string{arbiter.ReasonTooEarly}}},
		{Seq: 2, Verdict: arbiter.Verdict{Emerged: true}, FinalEmerged: true},
		{Seq: 3, Verdict: arbiter.Verdict{Emerged: true}, FinalEmerged: true},
	}
	s := Summarize(results)
	if s.TooEarly != 1 || s.RawEmerged != 2 || s.FinalEmerged != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.FirstEmerged != 2 {
		t.Fatalf("expected first emergence at seq 2, got %d", s.FirstEmerged)
	}
}
