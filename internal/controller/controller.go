package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/guard"
	"github.com/probematter/emergence-loop/internal/logging"
	"github.com/probematter/emergence-loop/internal/producer"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region loop
// Loop drives iterations and is the only consumer of the guard's final
// verdict. Every component it owns is explicitly constructed and wired at
// startup; there is no shared module-level state.
type Loop struct {
	store     *framelog.Store
	extractor *signals.Extractor
	arbiter   *arbiter.Arbiter
	guard     *guard.Guard
	producer  producer.Producer
	sink      CheckpointSink // nil disables checkpoints

	config Config
	budget Budget
	state  State

	startedAt time.Time
	positives []time.Time // evaluation times that carried a positive signal
	wg        sync.WaitGroup
}

// New wires a loop from its parts. budget carries the configured limits.
func New(
	store *framelog.Store,
	extractor *signals.Extractor,
	arb *arbiter.Arbiter,
	g *guard.Guard,
	prod producer.Producer,
	sink CheckpointSink,
	config Config,
	budget Budget,
) *Loop {
	return &Loop{
		store:     store,
		extractor: extractor,
		arbiter:   arb,
		guard:     g,
		producer:  prod,
		sink:      sink,
		config:    config,
		budget:    budget,
		state:     StateRunning,
		startedAt: time.Now(),
	}
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	return l.state
}

// Budget returns a copy of the current budget counters.
func (l *Loop) Budget() Budget {
	return l.budget
}

// Close waits for in-flight checkpoint writes.
func (l *Loop) Close() {
	l.wg.Wait()
}

// #endregion loop

// #region run
// Run drives iterations until a terminal state. Cancellation is honored
// only between iterations; an in-progress append always completes.
func (l *Loop) Run(ctx context.Context) State {
	for l.state == StateRunning {
		select {
		case <-ctx.Done():
			log.Printf("[LOOP] cancelled between iterations: %v", ctx.Err())
			l.wg.Wait()
			return l.state
		default:
		}
		l.RunIteration(ctx)
	}
	l.wg.Wait()
	return l.state
}

// RunIteration performs one full cycle: produce → append → extract →
// arbitrate → guard → act. It returns the state after the iteration.
func (l *Loop) RunIteration(ctx context.Context) State {
	if l.state != StateRunning {
		return l.state
	}

	var advisory *producer.Advisory
	if l.config.AdvisoryEnabled {
		advisory = l.advisory()
	}

	pctx, cancel := context.WithTimeout(ctx, l.config.ProducerTimeout)
	outcome, err := l.producer.NextOutcome(pctx, advisory)
	cancel()
	if err != nil {
		// A failed producer call counts against the budget; no frame is
		// appended.
		log.Printf("[LOOP] producer failed: %v", err)
		l.budget.IterationsUsed++
		l.budget.SecondsElapsed = time.Since(l.startedAt).Seconds()
		if done, reason := l.budget.Exhausted(); done {
			log.Printf("[LOOP] budget exhausted: %s", reason)
			l.state = StateStoppedExhausted
		}
		return l.state
	}
	outcome.LoopIteration = l.budget.IterationsUsed + 1

	frame, err := l.appendWithRetry(ctx, outcome)
	if err != nil {
		var integrity *framelog.IntegrityError
		if errors.As(err, &integrity) || errors.Is(err, framelog.ErrLogHalted) {
			log.Printf("[LOOP] integrity failure, halting: %v", err)
			l.state = StateStoppedError
			return l.state
		}
		log.Printf("[LOOP] append failed: %v", err)
		l.state = StateStoppedError
		return l.state
	}

	report := l.evaluate(ctx, frame)

	l.budget.IterationsUsed++
	l.budget.CostUsedUSD += frame.ResourceUsage["cost_usd"]
	l.budget.SecondsElapsed = time.Since(l.startedAt).Seconds()

	if trigger := l.checkpointTrigger(frame, report); trigger != "" {
		l.checkpointAsync(frame, report, trigger)
	}

	switch {
	case report.FinalEmerged:
		log.Printf("[LOOP] emergence confirmed at seq %d (confidence %.3f)", frame.Seq, report.FinalConfidence)
		l.state = StateStoppedEmerged
	default:
		if done, reason := l.budget.Exhausted(); done {
			log.Printf("[LOOP] budget exhausted: %s", reason)
			l.state = StateStoppedExhausted
		}
	}

	return l.state
}

// #endregion run

// #region evaluate
// evaluate runs the arbitration pipeline on a freshly appended frame and
// returns the guard's final report. Non-integrity failures degrade to a
// non-emerged verdict with a warning; only the hash chain may stop the
// system.
func (l *Loop) evaluate(ctx context.Context, frame framelog.Frame) guard.Report {
	verdict, err := l.arbiter.Evaluate(frame)
	if err != nil {
		log.Printf("[LOOP] arbitration degraded at seq %d: %v", frame.Seq, err)
		verdict = arbiter.Verdict{}
	}

	report, err := l.guard.Evaluate(ctx, frame, verdict)
	if err != nil {
		log.Printf("[LOOP] guard degraded at seq %d: %v", frame.Seq, err)
		report = guard.Report{QualityScore: 1}
	}

	if len(verdict.Reasons) > 0 && verdict.Reasons[0] != arbiter.ReasonTooEarly && verdict.Reasons[0] != arbiter.ReasonCircular {
		l.positives = append(l.positives, time.Now())
	}

	if err := logging.LogVerdict(l.store.DB(), logging.VerdictEntry{
		Seq:             frame.Seq,
		RawEmerged:      verdict.Emerged,
		RawConfidence:   verdict.Confidence,
		Reasons:         verdict.Reasons,
		Flags:           flagStrings(report.Flags),
		GamingScore:     report.GamingScore,
		QualityScore:    report.QualityScore,
		FinalConfidence: report.FinalConfidence,
		FinalEmerged:    report.FinalEmerged,
	}); err != nil {
		log.Printf("[LOOP] verdict log: %v", err)
	}

	return report
}

func flagStrings(flags []guard.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

// #endregion evaluate

// #region append-retry
// appendWithRetry retries contended appends. Contention is not a data
// error; the frame must still be written, never skipped.
func (l *Loop) appendWithRetry(ctx context.Context, outcome framelog.Outcome) (framelog.Frame, error) {
	var lastErr error
	for attempt := 0; attempt <= l.config.AppendRetries; attempt++ {
		frame, err := l.store.Append(ctx, outcome)
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, framelog.ErrAppendContended) {
			return framelog.Frame{}, err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return framelog.Frame{}, fmt.Errorf("append retries exhausted: %w", lastErr)
}

// #endregion append-retry

// #region advisory
// advisory builds the one-way, read-only summary for the producer.
func (l *Loop) advisory() *producer.Advisory {
	trend := "flat"
	if delta, err := l.extractor.EntropyDelta(20); err == nil {
		switch {
		case delta > 0.01:
			trend = "rising"
		case delta < -0.01:
			trend = "falling"
		}
	}

	cutoff := time.Now().Add(-time.Hour)
	var recentPositives int
	for i := len(l.positives) - 1; i >= 0; i-- {
		if l.positives[i].Before(cutoff) {
			break
		}
		recentPositives++
	}

	adv := &producer.Advisory{
		IterationCount:      l.budget.IterationsUsed,
		EntropyTrend:        trend,
		PositiveSignalsHour: recentPositives,
		ElapsedSeconds:      time.Since(l.startedAt).Seconds(),
	}
	if l.budget.MaxIterations > 0 {
		adv.RemainingIterations = l.budget.MaxIterations - l.budget.IterationsUsed
	}
	if l.budget.MaxCostUSD > 0 {
		adv.RemainingCostUSD = l.budget.MaxCostUSD - l.budget.CostUsedUSD
	}
	return adv
}

// #endregion advisory

// #region checkpoint
func (l *Loop) checkpointTrigger(frame framelog.Frame, report guard.Report) string {
	switch {
	case report.FinalEmerged:
		return "emerged"
	case frame.CrystallizedArtifact != "":
		return "crystallized"
	case l.config.CheckpointInterval > 0 && l.budget.IterationsUsed%l.config.CheckpointInterval == 0:
		return "interval"
	default:
		return ""
	}
}

// checkpointAsync fires the checkpoint without blocking the loop. A failed
// commit is logged and the loop continues.
func (l *Loop) checkpointAsync(frame framelog.Frame, report guard.Report, trigger string) {
	if l.sink == nil {
		return
	}
	snapshot := Snapshot{
		Seq:          frame.Seq,
		Iteration:    l.budget.IterationsUsed,
		State:        l.state,
		Trigger:      trigger,
		FinalEmerged: report.FinalEmerged,
		CreatedAt:    time.Now().UTC(),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.sink.Commit(snapshot); err != nil {
			log.Printf("[CHKPT] commit failed (non-fatal): %v", err)
		}
	}()
}

// #endregion checkpoint
