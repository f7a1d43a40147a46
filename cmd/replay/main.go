package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/logging"
	"github.com/probematter/emergence-loop/internal/replay"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to emergence.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/emergence.db")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-mode

func runDBMode(dbPath string) int {
	store, err := framelog.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "count frames: %v\n", err)
		return 2
	}
	if count == 0 {
		fmt.Fprintln(os.Stderr, "no frames found")
		return 2
	}

	// Verify the chain before trusting its contents.
	if err := store.VerifyIntegrity(1, count); err != nil {
		fmt.Fprintf(os.Stderr, "chain verification failed: %v\n", err)
		return 2
	}

	frames, err := store.FramesBack(int(count))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load frames: %v\n", err)
		return 2
	}

	results, err := replay.Replay(context.Background(), frames, replay.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	// Compare against the verdicts recorded live, matched by seq.
	recorded, err := logging.ListVerdicts(store.DB(), int(count))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load verdicts: %v\n", err)
		return 2
	}
	recordedBySeq := make(map[int64]logging.VerdictEntry, len(recorded))
	for _, e := range recorded {
		recordedBySeq[e.Seq] = e
	}

	return printComparison(results, func(r replay.Result) (string, bool) {
		e, ok := recordedBySeq[r.Seq]
		if !ok {
			return "(no record)", false
		}
		return verdictLabel(e.FinalEmerged, e.Reasons), e.FinalEmerged == r.FinalEmerged
	})
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	results, err := replay.Replay(context.Background(), f.Frames, replay.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	expBySeq := make(map[int64]replay.ExpectedResult, len(f.ExpectedResults))
	for _, e := range f.ExpectedResults {
		expBySeq[e.Seq] = e
	}

	return printComparison(results, func(r replay.Result) (string, bool) {
		e, ok := expBySeq[r.Seq]
		if !ok {
			return "(unpinned)", true
		}
		return verdictLabel(e.FinalEmerged, e.Reasons), e.FinalEmerged == r.FinalEmerged
	})
}

// #endregion fixture-mode

// #region output

// printComparison prints one row per replayed frame with the expected value
// produced by lookup, and returns the process exit code.
func printComparison(results []replay.Result, lookup func(replay.Result) (string, bool)) int {
	fmt.Printf("%-6s| %-28s| %-28s| %s\n", "Seq", "Expected", "Replayed", "Match")
	fmt.Printf("%-6s+%-29s+%-29s+%s\n",
		"------", "-----------------------------", "-----------------------------", "------")

	matches := 0
	for _, r := range results {
		expected, ok := lookup(r)
		got := verdictLabel(r.FinalEmerged, r.Verdict.Reasons)
		match := "DIFF"
		if ok {
			match = "OK"
			matches++
		}
		fmt.Printf("%-6d| %-28s| %-28s| %s\n", r.Seq, expected, got, match)
	}

	summary := replay.Summarize(results)
	fmt.Printf("\nSummary: %d frames, %d match, %d diverge\n",
		summary.TotalFrames, matches, summary.TotalFrames-matches)
	fmt.Printf("  too_early=%d circular=%d raw_emerged=%d final_emerged=%d flagged=%d\n",
		summary.TooEarly, summary.Circular, summary.RawEmerged, summary.FinalEmerged, summary.Flagged)
	if summary.FirstEmerged > 0 {
		fmt.Printf("  first emergence at seq %d\n", summary.FirstEmerged)
	}

	if matches < summary.TotalFrames {
		return 1
	}
	return 0
}

func verdictLabel(emerged bool, reasons []string) string {
	label := "not_emerged"
	if emerged {
		label = "emerged"
	}
	if len(reasons) > 0 {
		label += " (" + strings.Join(reasons, ",") + ")"
	}
	if len(label) > 28 {
		label = label[:28]
	}
	return label
}

// #endregion output
