package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/replay"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to emergence.db")
	last := flag.Int("last", 100, "number of most recent frames to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	desc := flag.String("desc", "", "fixture description")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/emergence.db --out path/to/fixture.json [--last N] [--desc text]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *outPath, *desc); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath string, last int, outPath, desc string) error {
	store, err := framelog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		return fmt.Errorf("count frames: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("no frames found")
	}

	// Verify before freezing anything into a fixture.
	if err := store.VerifyIntegrity(1, count); err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}

	frames, err := store.FramesBack(last)
	if err != nil {
		return fmt.Errorf("load frames: %w", err)
	}

	// Re-derive decisions so the fixture pins what the current thresholds
	// produce, not what happened to be logged.
	results, err := replay.Replay(context.Background(), frames, replay.DefaultConfig())
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	if desc == "" {
		desc = fmt.Sprintf("Export: %d frames from %s", len(frames), dbPath)
	}
	fixture := replay.ExportFixture(desc, frames, results)
	if err := replay.SaveFixture(outPath, fixture); err != nil {
		return err
	}

	fmt.Printf("Wrote fixture to %s (%d frames, %d expected results)\n",
		outPath, len(fixture.Frames), len(fixture.ExpectedResults))
	return nil
}

// #endregion export
