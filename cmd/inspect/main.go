package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/probematter/emergence-loop/internal/embed"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/logging"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to emergence.db")
	last := flag.Int("last", 20, "show N most recent frames")
	seq := flag.Int64("seq", 0, "show single frame detail")
	verdicts := flag.Bool("verdicts", false, "list verdict log instead of frames")
	search := flag.String("search", "", "rank frames by similarity to this text")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/emergence.db [--last N] [--seq N] [--verdicts] [--search TEXT] [--json]")
		os.Exit(2)
	}

	store, err := framelog.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *seq > 0:
		err = runDetailMode(store, *seq, *jsonOut)
	case *verdicts:
		err = runVerdictMode(store, *last, *jsonOut)
	case *search != "":
		store.SetEmbedder(buildEmbedder())
		err = runSearchMode(store, *search, *last, *jsonOut)
	default:
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(store *framelog.Store, last int, jsonOut bool) error {
	frames, err := store.FramesBack(last)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		fmt.Fprintln(os.Stderr, "no frames found")
		return nil
	}

	if jsonOut {
		return printJSON(frames)
	}

	fmt.Printf("%-6s  %-10s  %-12s  %-8s  %-5s  %-6s  %s\n",
		"Seq", "Phase", "Domain", "Diff", "OK", "Cryst", "Summary")
	fmt.Printf("%-6s  %-10s  %-12s  %-8s  %-5s  %-6s  %s\n",
		"------", "----------", "------------", "--------", "-----", "------", "--------------------")
	for _, f := range frames {
		fmt.Printf("%-6d  %-10s  %-12s  %-8s  %-5v  %-6v  %s\n",
			f.Seq, trunc(f.PhaseReached, 10), trunc(f.DomainTag, 12), trunc(f.Difficulty, 8),
			f.Succeeded, f.CrystallizedArtifact != "", trunc(f.ActionSummary, 50))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(store *framelog.Store, seq int64, jsonOut bool) error {
	f, err := store.FrameAt(seq)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(f)
	}

	fmt.Printf("Seq:          %d\n", f.Seq)
	fmt.Printf("Frame ID:     %s\n", f.FrameID)
	fmt.Printf("Timestamp:    %s\n", f.Timestamp.Format("2006-01-02T15:04:05Z"))
	fmt.Printf("Phase:        %s\n", f.PhaseReached)
	fmt.Printf("Domain:       %s (%s)\n", f.DomainTag, f.Difficulty)
	fmt.Printf("Succeeded:    %v\n", f.Succeeded)
	fmt.Printf("Iteration:    %d\n", f.LoopIteration)
	fmt.Printf("Diversity:    %.4f\n", f.DiversityScore)
	fmt.Printf("Summary:      %s\n", f.ActionSummary)
	if f.CrystallizedArtifact != "" {
		fmt.Printf("Crystallized: %s\n", f.CrystallizedArtifact)
	}
	if len(f.BeliefDelta) > 0 {
		fmt.Printf("Belief delta:\n")
		for k, v := range f.BeliefDelta {
			fmt.Printf("  %-20s %s\n", k, trunc(v, 60))
		}
	}
	if len(f.CapabilityDelta) > 0 {
		fmt.Printf("Capability delta:\n")
		for k, v := range f.CapabilityDelta {
			fmt.Printf("  %-20s %s\n", k, trunc(v, 60))
		}
	}
	fmt.Printf("Parent hash:  %s\n", f.ParentHash)
	fmt.Printf("Content hash: %s\n", f.ContentHash)
	return nil
}

// #endregion detail-mode

// #region verdict-mode

func runVerdictMode(store *framelog.Store, last int, jsonOut bool) error {
	entries, err := logging.ListVerdicts(store.DB(), last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no verdicts found")
		return nil
	}
	if jsonOut {
		return printJSON(entries)
	}

	fmt.Printf("%-6s  %-8s  %-8s  %-8s  %-7s  %s\n",
		"Seq", "RawConf", "Gaming", "Final", "Emerged", "Reasons/Flags")
	fmt.Printf("%-6s  %-8s  %-8s  %-8s  %-7s  %s\n",
		"------", "--------", "--------", "--------", "-------", "--------------------")
	for _, e := range entries {
		labels := strings.Join(e.Reasons, ",")
		if len(e.Flags) > 0 {
			labels += " [" + strings.Join(e.Flags, ",") + "]"
		}
		fmt.Printf("%-6d  %-8.3f  %-8.3f  %-8.3f  %-7v  %s\n",
			e.Seq, e.RawConfidence, e.GamingScore, e.FinalConfidence, e.FinalEmerged, trunc(labels, 60))
	}
	return nil
}

// #endregion verdict-mode

// #region search-mode

// buildEmbedder picks the query embedder: OpenAI when a key is in the
// environment, otherwise the deterministic local one. Frames embedded by a
// different provider re-score against their cached vectors.
func buildEmbedder() framelog.Embedder {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return embed.NewOpenAIEmbedder(key, os.Getenv("OPENAI_BASE_URL"), "")
	}
	return embed.NewDeterministic(0)
}

func runSearchMode(store *framelog.Store, query string, limit int, jsonOut bool) error {
	frames, err := store.SemanticSearch(context.Background(), query, limit)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		fmt.Fprintln(os.Stderr, "no frames found")
		return nil
	}
	if jsonOut {
		return printJSON(frames)
	}

	fmt.Printf("%-6s  %-12s  %-6s  %s\n", "Seq", "Domain", "Cryst", "Summary")
	fmt.Printf("%-6s  %-12s  %-6s  %s\n", "------", "------------", "------", "--------------------")
	for _, f := range frames {
		fmt.Printf("%-6d  %-12s  %-6v  %s\n",
			f.Seq, trunc(f.DomainTag, 12), f.CrystallizedArtifact != "", trunc(f.ActionSummary, 60))
	}
	return nil
}

// #endregion search-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func trunc(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

// #endregion output
