package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/guard"
	"github.com/probematter/emergence-loop/internal/producer"
	"github.com/probematter/emergence-loop/internal/signals"
	_ "modernc.org/sqlite"
)

// scriptedProducer returns one outcome per call from a generator func.
type scriptedProducer struct {
	calls int
	next  func(call int) (framelog.Outcome, error)
}

func (p *scriptedProducer) NextOutcome(_ context.Context, _ *producer.Advisory) (framelog.Outcome, error) {
	p.calls++
	return p.next(p.calls)
}

// countingSink records committed snapshots.
type countingSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *countingSink) Commit(snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func plainOutcome(call int) (framelog.Outcome, error) {
	return framelog.Outcome{
		PhaseReached:  "act",
		ActionSummary: fmt.Sprintf("tried a distinct approach number %d", call),
		DomainTag:     "algorithms",
		Difficulty:    "medium",
		Succeeded:     true,
		ResourceUsage: map[string]float64{"cost_usd": 0.01},
	}, nil
}

func newTestLoop(t *testing.T, prod producer.Producer, sink CheckpointSink, arbCfg arbiter.Config, budget Budget) (*Loop, *framelog.Store) {
	t.Helper()
	store, err := framelog.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	extractor := signals.NewExtractor(store)
	arb := arbiter.New(store, extractor, nil, arbCfg)
	g := guard.New(store, nil, nil, nil, guard.DefaultConfig())

	cfg := DefaultConfig()
	cfg.ProducerTimeout = 5 * time.Second
	loop := New(store, extractor, arb, g, prod, sink, cfg, budget)
	t.Cleanup(loop.Close)
	return loop, store
}

func TestMaxIterationsExhaustsBeforeEmergence(t *testing.T) {
	prod := &scriptedProducer{next: plainOutcome}
	loop, store := newTestLoop(t, prod, nil, arbiter.DefaultConfig(), Budget{MaxIterations: 10})

	final := loop.Run(context.Background())
	if final != StateStoppedExhausted {
		t.Fatalf("expected STOPPED_RESOURCE_EXHAUSTED, got %s", final)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected 10 frames, got %d", count)
	}
	if used := loop.Budget().IterationsUsed; used != 10 {
		t.Fatalf("expected 10 iterations used, got %d", used)
	}
}

func TestEmergenceStopsLoop(t *testing.T) {
	prod := &scriptedProducer{next: func(call int) (framelog.Outcome, error) {
		o, _ := plainOutcome(call)
		if call == 6 {
			o.CrystallizedArtifact = "when lookups repeat, cache the resolved path"
		}
		return o, nil
	}}
	arbCfg := arbiter.DefaultConfig()
	arbCfg.MinCyclesBeforeCheck = 5
	loop, store := newTestLoop(t, prod, nil, arbCfg, Budget{MaxIterations: 100})

	final := loop.Run(context.Background())
	if final != StateStoppedEmerged {
		t.Fatalf("expected STOPPED_EMERGED, got %s", final)
	}
	count, _ := store.Count()
	if count != 6 {
		t.Fatalf("expected loop to stop at frame 6, got %d frames", count)
	}
}

func TestProducerFailureCountsAgainstBudget(t *testing.T) {
	prod := &scriptedProducer{next: func(int) (framelog.Outcome, error) {
		return framelog.Outcome{}, errors.New("producer down")
	}}
	loop, store := newTestLoop(t, prod, nil, arbiter.DefaultConfig(), Budget{MaxIterations: 3})

	final := loop.Run(context.Background())
	if final != StateStoppedExhausted {
		t.Fatalf("expected STOPPED_RESOURCE_EXHAUSTED, got %s", final)
	}
	count, _ := store.Count()
	if count != 0 {
		t.Fatalf("failed producer calls must append nothing, got %d frames", count)
	}
}

func TestCostBudget(t *testing.T) {
	prod := &scriptedProducer{next: plainOutcome}
	loop, _ := newTestLoop(t, prod, nil, arbiter.DefaultConfig(), Budget{MaxCostUSD: 0.05})

	final := loop.Run(context.Background())
	if final != StateStoppedExhausted {
		t.Fatalf("expected STOPPED_RESOURCE_EXHAUSTED, got %s", final)
	}
	// 0.01 per iteration, limit 0.05: five iterations.
	if used := loop.Budget().IterationsUsed; used != 5 {
		t.Fatalf("expected 5 iterations, got %d", used)
	}
}

func TestCheckpointInterval(t *testing.T) {
	prod := &scriptedProducer{next: plainOutcome}
	sink := &countingSink{}
	loop, _ := newTestLoop(t, prod, sink, arbiter.DefaultConfig(), Budget{MaxIterations: 4})

	loop.Run(context.Background())
	loop.Close() // wait for async commits

	// CheckpointInterval default 5 exceeds the run; override triggers none,
	// so count from fresh loop with interval 2:
	if got := sink.count(); got != 0 {
		t.Fatalf("expected no interval checkpoints in 4 iterations at interval 5, got %d", got)
	}

	sink2 := &countingSink{}
	prod2 := &scriptedProducer{next: plainOutcome}
	loop2, _ := newTestLoop(t, prod2, sink2, arbiter.DefaultConfig(), Budget{MaxIterations: 4})
	loop2.config.CheckpointInterval = 2

	loop2.Run(context.Background())
	loop2.Close()
	if got := sink2.count(); got != 2 {
		t.Fatalf("expected 2 interval checkpoints, got %d", got)
	}
}

func TestCancellationBetweenIterations(t *testing.T) {
	prod := &scriptedProducer{next: plainOutcome}
	loop, _ := newTestLoop(t, prod, nil, arbiter.DefaultConfig(), Budget{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	final := loop.Run(ctx)
	if final != StateRunning {
		t.Fatalf("cancellation is not a terminal state, got %s", final)
	}
	if prod.calls != 0 {
		t.Fatalf("expected no iterations after pre-cancelled context, got %d", prod.calls)
	}
}

func TestBudgetExhausted(t *testing.T) {
	b := Budget{IterationsUsed: 10, MaxIterations: 10}
	if done, reason := b.Exhausted(); !done || reason == "" {
		t.Fatalf("expected exhaustion, got %v %q", done, reason)
	}

	b = Budget{CostUsedUSD: 1.2, MaxCostUSD: 1.0}
	if done, _ := b.Exhausted(); !done {
		t.Fatal("expected cost exhaustion")
	}

	// Zero limits disable the corresponding counter.
	b = Budget{IterationsUsed: 1e6, CostUsedUSD: 1e6, SecondsElapsed: 1e6}
	if done, _ := b.Exhausted(); done {
		t.Fatal("zero limits must never exhaust")
	}
}

func TestFileSinkWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	snap := Snapshot{Seq: 3, Iteration: 3, State: StateRunning, Trigger: "interval", CreatedAt: time.Now().UTC()}
	if err := sink.Commit(snap); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint-*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one checkpoint file, got %v (%v)", matches, err)
	}
}
