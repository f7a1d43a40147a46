package replay

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/guard"
)

func TestFixtureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	orig := &Fixture{
		Description: "short recorded session",
		Frames:      historyFrames(3),
		ExpectedResults: []ExpectedResult{
			{Seq: 1, FinalEmerged: false, Reasons: []string{arbiter.ReasonTooEarly}},
		},
	}
	if err := SaveFixture(path, orig); err != nil {
		t.Fatalf("SaveFixture: %v", err)
	}

	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if loaded.Description != orig.Description {
		t.Fatalf("description mismatch: %q", loaded.Description)
	}
	if len(loaded.Frames) != 3 || loaded.Frames[2].Seq != 3 {
		t.Fatalf("frames did not survive round trip: %+v", loaded.Frames)
	}
	if len(loaded.ExpectedResults) != 1 || loaded.ExpectedResults[0].Reasons[0] != arbiter.ReasonTooEarly {
		t.Fatalf("expected results did not survive round trip: %+v", loaded.ExpectedResults)
	}
}

func TestLoadFixtureMissingFile(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestExportFixturePinsResults(t *testing.T) {
	frames := historyFrames(2)
	results := []Result{
		{Seq: 1, Verdict: arbiter.Verdict{Reasons: []string{arbiter.ReasonTooEarly}}},
		{
			Seq:          2,
			Verdict:      arbiter.Verdict{Emerged: true},
			Report:       guard.Report{Flags: []guard.Flag{guard.FlagEasySkew}},
			FinalEmerged: true,
		},
	}

	f := ExportFixture("exported run", frames, results)
	if len(f.ExpectedResults) != 2 {
		t.Fatalf("expected 2 pins, got %d", len(f.ExpectedResults))
	}
	pin := f.ExpectedResults[1]
	if !pin.FinalEmerged || len(pin.Flags) != 1 || pin.Flags[0] != string(guard.FlagEasySkew) {
		t.Fatalf("unexpected pin %+v", pin)
	}
}

func TestFixtureCheckReportsMismatches(t *testing.T) {
	f := &Fixture{ExpectedResults: []ExpectedResult{
		{Seq: 1, FinalEmerged: false},
		{Seq: 2, FinalEmerged: true},
		{Seq: 9, FinalEmerged: false},
	}}
	results := []Result{
		{Seq: 1, FinalEmerged: false},
		{Seq: 2, FinalEmerged: false},
	}

	mismatches := f.Check(results)
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %v", mismatches)
	}
	if !strings.Contains(mismatches[0], "seq 2") {
		t.Fatalf("expected seq 2 divergence first, got %q", mismatches[0])
	}
	if !strings.Contains(mismatches[1], "no result") {
		t.Fatalf("expected missing-result message, got %q", mismatches[1])
	}

	if got := f.Check(nil); len(got) != 3 {
		t.Fatalf("empty results must miss every pin, got %v", got)
	}
}
