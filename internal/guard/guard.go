package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region guard
// Guard wraps the arbiter's provisional verdict with adversarial checks and
// produces the final, trusted verdict. It must run before anything
// downstream acts on a verdict.
type Guard struct {
	log       FrameSource
	embedder  Embedder
	honeypots *HoneypotSystem // nil in replay mode
	review    ReviewSink      // nil disables sampling
	config    Config
	randFn    func() float64
}

// New creates a Guard. embedder, honeypots, and review may each be nil;
// the corresponding checks degrade to neutral skips.
func New(log FrameSource, embedder Embedder, honeypots *HoneypotSystem, review ReviewSink, config Config) *Guard {
	return &Guard{
		log:       log,
		embedder:  embedder,
		honeypots: honeypots,
		review:    review,
		config:    config,
		randFn:    rand.Float64,
	}
}

// #endregion guard

// #region evaluate
// Evaluate runs every defense against the current frame and verdict.
//
// The embedding-bound checks fan out concurrently; the combination step is
// single-threaded and deterministic, so identical frame histories always
// yield identical reports.
func (g *Guard) Evaluate(ctx context.Context, current framelog.Frame, verdict arbiter.Verdict) (Report, error) {
	depth := maxInt(g.config.CoherenceWindow, g.config.SemanticCycleWindow,
		g.config.LexicalWindow, g.config.DomainScanDepth, g.config.TrajectoryWindow)
	recent, err := g.log.FramesBack(depth)
	if err != nil {
		return Report{}, fmt.Errorf("guard history: %w", err)
	}

	priorArtifacts, err := g.log.CrystallizedBefore(current.Seq)
	if err != nil {
		return Report{}, fmt.Errorf("prior artifacts: %w", err)
	}

	// Fan out the embedding-bound checks; everything below the Wait is the
	// deterministic combination step.
	var (
		coherence  signals.Measurement
		cycleHit   bool
		repackaged bool
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		coherence = g.coherence(gctx, tail(recent, g.config.CoherenceWindow))
		return nil
	})
	eg.Go(func() error {
		cycleHit, _ = g.semanticCycle(gctx, tail(recent, g.config.SemanticCycleWindow))
		return nil
	})
	eg.Go(func() error {
		repackaged, _ = g.historicalNovelty(gctx, current)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		QualityScore: 1,
		Coherence:    coherence,
	}
	adjusted := verdict.Confidence

	// Coherence check: entropy gains without coherence are cheap; the
	// entropy signal's contribution is removed entirely.
	if verdict.Bundle.EntropyDelta > 0 && coherence.OK() && coherence.Value < g.config.CoherenceFloor {
		report.Flags = append(report.Flags, FlagCheapEntropy)
		if hasReason(verdict.Reasons, arbiter.ReasonEntropyUp) {
			// Remove the entropy share from the unclamped score and
			// reclamp, so a score held at 1 keeps its surplus.
			adjusted = clamp01(verdict.Unclamped - arbiter.UnitSignalWeight)
		}
	}

	// Lexical cheap-entropy heuristics over consecutive frames.
	report.Flags = append(report.Flags, lexicalGaming(tail(recent, g.config.LexicalWindow))...)

	// Semantic-cycle override: stronger than the lexical circular check.
	if cycleHit {
		report.Flags = append(report.Flags, FlagSemanticCycle)
		report.SemanticCycleOverride = true
	}

	// Crystallization quality gate, only when an artifact is present.
	if current.CrystallizedArtifact != "" {
		breakdown := g.scoreArtifact(ctx, current, tail(recent, g.config.TrajectoryWindow), priorArtifacts)
		report.Quality = &breakdown
		report.QualityScore = breakdown.Composite
		if !breakdown.Accepted {
			report.Flags = append(report.Flags, FlagLowQuality)
		}
	}

	// Domain/difficulty balance over recent claimed improvements.
	report.Flags = append(report.Flags, g.domainBalance(recent)...)

	// Historical novelty: near-identical beliefs to the lookback frame.
	if repackaged {
		report.Flags = append(report.Flags, FlagRepackagedClaim)
	}

	// Honeypot canaries. Observation runs every frame so a gamed canary is
	// never missed; rotation of fresh canaries is sampled.
	if g.honeypots != nil {
		gamed, err := g.honeypots.Observe(current)
		if err != nil {
			log.Printf("[GUARD] honeypot observe: %v", err)
		} else if len(gamed) > 0 {
			report.Flags = append(report.Flags, FlagHoneypotGamed)
		}
		if g.randFn() < g.config.HoneypotSampleRate {
			if err := g.honeypots.Seed(current); err != nil {
				log.Printf("[GUARD] honeypot seed: %v", err)
			}
		}
	}

	// Composite gaming score from severity weights, capped at 1.
	for _, f := range report.Flags {
		switch severityOf[f] {
		case SeverityHigh:
			report.GamingScore += g.config.HighSeverityWeight
		case SeverityMedium:
			report.GamingScore += g.config.MediumSeverityWeight
		}
	}
	if report.GamingScore > 1 {
		report.GamingScore = 1
	}
	defenseFlags := len(report.Flags)
	if report.GamingScore > g.config.GamingThreshold {
		report.Flags = append(report.Flags, FlagGamingDetected)
	}

	// Final verdict.
	penalty := math.Pow(g.config.FlagPenalty, float64(defenseFlags))
	report.FinalConfidence = adjusted * penalty * (1 - report.GamingScore) * report.QualityScore
	report.FinalEmerged = verdict.Emerged &&
		!report.SemanticCycleOverride &&
		report.FinalConfidence >= g.config.EmergenceThreshold

	g.maybeSample(current, verdict, report)
	return report, nil
}

// #endregion evaluate

// #region sampling
// maybeSample sends a configurable fraction of evaluations to the human
// review queue. Asynchronous and best-effort; it never blocks or fails an
// evaluation.
func (g *Guard) maybeSample(current framelog.Frame, verdict arbiter.Verdict, report Report) {
	if g.review == nil || g.randFn() >= g.config.SampleRate {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"seq":              current.Seq,
		"action_summary":   current.ActionSummary,
		"reasons":          verdict.Reasons,
		"flags":            report.Flags,
		"raw_confidence":   verdict.Confidence,
		"final_confidence": report.FinalConfidence,
	})
	if err != nil {
		log.Printf("[GUARD] sample payload: %v", err)
		return
	}
	go func() {
		if _, err := g.review.Enqueue(current.Seq, report.FinalEmerged, string(payload)); err != nil {
			log.Printf("[GUARD] review enqueue: %v", err)
		}
	}()
}

// #endregion sampling

// #region helpers
func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func tail(frames []framelog.Frame, n int) []framelog.Frame {
	if n <= 0 || len(frames) <= n {
		return frames
	}
	return frames[len(frames)-n:]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

// #endregion helpers
