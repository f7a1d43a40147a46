package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a recorded
// frame history plus the decisions expected when it is re-evaluated.
type Fixture struct {
	Description     string           `json:"description"`
	Frames          []framelog.Frame `json:"frames"`
	ExpectedResults []ExpectedResult `json:"expected_results,omitempty"`
}

// ExpectedResult pins the expected final decision at one frame.
type ExpectedResult struct {
	Seq          int64    `json:"seq"`
	FinalEmerged bool     `json:"final_emerged"`
	Reasons      []string `json:"reasons,omitempty"`
	Flags        []string `json:"flags,omitempty"`
}

// #endregion fixture-types

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// SaveFixture writes a fixture as indented JSON, for exporting live frame
// histories into regression fixtures.
func SaveFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ExportFixture converts replay results into expected-result pins, so a
// verified run can be frozen as a fixture.
func ExportFixture(description string, frames []framelog.Frame, results []Result) *Fixture {
	f := &Fixture{Description: description, Frames: frames}
	for _, r := range results {
		exp := ExpectedResult{
			Seq:          r.Seq,
			FinalEmerged: r.FinalEmerged,
			Reasons:      r.Verdict.Reasons,
		}
		for _, fl := range r.Report.Flags {
			exp.Flags = append(exp.Flags, string(fl))
		}
		f.ExpectedResults = append(f.ExpectedResults, exp)
	}
	return f
}

// Check compares replay results against the fixture's expected results.
// It returns one message per mismatch; empty means the run matched.
func (f *Fixture) Check(results []Result) []string {
	bySeq := make(map[int64]Result, len(results))
	for _, r := range results {
		bySeq[r.Seq] = r
	}
	var mismatches []string
	for _, exp := range f.ExpectedResults {
		got, ok := bySeq[exp.Seq]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("seq %d: no result", exp.Seq))
			continue
		}
		if got.FinalEmerged != exp.FinalEmerged {
			mismatches = append(mismatches, fmt.Sprintf(
				"seq %d: final_emerged %v, expected %v", exp.Seq, got.FinalEmerged, exp.FinalEmerged))
		}
	}
	return mismatches
}

// #endregion fixture-io
