package guard

import (
	"context"

	"github.com/probematter/emergence-loop/internal/signals"
)

// #region flags
// Flag names defense failures detected by individual checks.
type Flag string

const (
	FlagCheapEntropy      Flag = "cheap_entropy"
	FlagModifierInsertion Flag = "modifier_insertion"
	FlagSynonymCycling    Flag = "synonym_cycling"
	FlagSemanticCycle     Flag = "semantic_cycle"
	FlagLowQuality        Flag = "low_quality_artifact"
	FlagDomainMonoculture Flag = "domain_monoculture"
	FlagEasySkew          Flag = "easy_skew"
	FlagRepackagedClaim   Flag = "repackaged_claim"
	FlagHoneypotGamed     Flag = "honeypot_gamed"
	FlagGamingDetected    Flag = "gaming_detected"
)

// Severity buckets flags for the composite gaming score.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// severityOf maps each defense-failure flag to its gaming-score bucket.
var severityOf = map[Flag]Severity{
	FlagCheapEntropy:      SeverityMedium,
	FlagModifierInsertion: SeverityMedium,
	FlagSynonymCycling:    SeverityMedium,
	FlagSemanticCycle:     SeverityHigh,
	FlagLowQuality:        SeverityHigh,
	FlagDomainMonoculture: SeverityMedium,
	FlagEasySkew:          SeverityMedium,
	FlagRepackagedClaim:   SeverityMedium,
	FlagHoneypotGamed:     SeverityHigh,
}

// #endregion flags

// #region config
// QualityWeights weight the five crystallization quality components. They
// must sum to 1.
type QualityWeights struct {
	Specificity       float64
	Actionability     float64
	DomainRelevance   float64
	TrajectoryQuality float64
	Novelty           float64
}

// Config holds every guard tunable. All of these are heuristic defaults,
// not contracts.
type Config struct {
	CoherenceWindow     int     // frames for mean pairwise coherence
	CoherenceFloor      float64 // entropy gains below this coherence are cheap
	SemanticCycleWindow int
	SemanticCycleSim    float64 // cosine at or above this is a near-duplicate
	SemanticCycleFrac   float64 // near-duplicate pair fraction that overrides
	LexicalWindow       int     // consecutive frames scanned for modifier/synonym games

	QualityWeights     QualityWeights
	QualityGate        float64 // composite below this rejects the artifact
	TrajectoryWindow   int     // frames for source-trajectory quality

	DomainWindow     int     // improvements needed before balance is enforced
	DomainScanDepth  int     // recent frames scanned for improvements
	EasyShareLimit   float64 // reject when "easy" exceeds this share
	NoveltyLookback  int64   // frames back for the repackaged-claim check
	NoveltySim       float64 // similarity above this is a repackaged claim

	HighSeverityWeight   float64
	MediumSeverityWeight float64
	GamingThreshold      float64 // gamingScore above this sets gaming_detected
	FlagPenalty          float64 // per-flag confidence multiplier
	EmergenceThreshold   float64 // final confidence floor for finalEmerged

	HoneypotFactor     float64 // value beyond factor×baseline is gamed
	HoneypotSampleRate float64 // fraction of evaluations that rotate fresh canaries in
	SampleRate         float64 // fraction of evaluations sent to human review
}

// DefaultConfig returns the stock guard thresholds.
func DefaultConfig() Config {
	return Config{
		CoherenceWindow:     10,
		CoherenceFloor:      0.5,
		SemanticCycleWindow: 20,
		SemanticCycleSim:    0.85,
		SemanticCycleFrac:   0.3,
		LexicalWindow:       10,
		QualityWeights: QualityWeights{
			Specificity:       0.25,
			Actionability:     0.25,
			DomainRelevance:   0.20,
			TrajectoryQuality: 0.15,
			Novelty:           0.15,
		},
		QualityGate:          0.6,
		TrajectoryWindow:     20,
		DomainWindow:         10,
		DomainScanDepth:      50,
		EasyShareLimit:       0.7,
		NoveltyLookback:      50,
		NoveltySim:           0.85,
		HighSeverityWeight:   0.3,
		MediumSeverityWeight: 0.2,
		GamingThreshold:      0.5,
		FlagPenalty:          0.7,
		EmergenceThreshold:   0.4,
		HoneypotFactor:       2.0,
		HoneypotSampleRate:   0.1,
		SampleRate:           0.1,
	}
}

// #endregion config

// #region report
// Report is the guard's final, trusted wrapping of an arbiter verdict.
type Report struct {
	GamingScore           float64
	Flags                 []Flag
	QualityScore          float64 // 1 when no crystallized artifact
	FinalConfidence       float64
	FinalEmerged          bool
	SemanticCycleOverride bool

	// Coherence carries the tri-state measurement for diagnostics.
	Coherence signals.Measurement
	// Quality carries the per-component breakdown when an artifact was
	// gated, nil otherwise.
	Quality *QualityBreakdown
}

// #endregion report

// #region interfaces
// Embedder abstracts the embedding provider. A nil embedder degrades every
// embedding-bound check to a neutral skip.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FrameSource is the read-only frame access the guard needs.
type FrameSource interface {
	signals.FrameReader
	CrystallizedBefore(seq int64) ([]string, error)
}

// ReviewSink receives the sampled fraction of evaluations. Judgments are
// tallied for threshold tuning only; they never rewrite a past verdict.
type ReviewSink interface {
	Enqueue(seq int64, finalEmerged bool, payloadJSON string) (string, error)
}

// #endregion interfaces
