package replay

import (
	"context"
	"fmt"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/embed"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/guard"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region types
// Config bundles arbiter and guard configs for a replay run. Honeypots and
// review sampling are always off during replay; they are side effects of
// live runs, not part of the decision function.
type Config struct {
	ArbiterConfig arbiter.Config
	GuardConfig   guard.Config
	Embedder      guard.Embedder // nil degrades embedding checks, like live
}

// DefaultConfig returns stock thresholds with a deterministic local
// embedder, so replays are reproducible without a network provider.
func DefaultConfig() Config {
	return Config{
		ArbiterConfig: arbiter.DefaultConfig(),
		GuardConfig:   guard.DefaultConfig(),
		Embedder:      embed.NewDeterministic(0),
	}
}

// Result captures the re-derived decision at one frame.
type Result struct {
	Seq             int64
	Verdict         arbiter.Verdict
	Report          guard.Report
	FinalEmerged    bool
	FinalConfidence float64
}

// Summary aggregates a replay run.
type Summary struct {
	TotalFrames  int
	TooEarly     int
	Circular     int
	RawEmerged   int
	FinalEmerged int
	Flagged      int // frames with at least one defense flag
	FirstEmerged int64
}

// #endregion types

// #region memlog
// memLog exposes a progressively growing prefix of a frame slice through
// the same read interface the live store provides, so the arbiter and guard
// at frame i see exactly the history they saw live.
type memLog struct {
	frames  []framelog.Frame // ascending by seq
	visible int
}

func (m *memLog) Count() (int64, error) {
	return int64(m.visible), nil
}

func (m *memLog) Latest() (framelog.Frame, error) {
	if m.visible == 0 {
		return framelog.Frame{}, framelog.ErrNotFound
	}
	return m.frames[m.visible-1], nil
}

func (m *memLog) FrameAt(seq int64) (framelog.Frame, error) {
	for i := m.visible - 1; i >= 0; i-- {
		if m.frames[i].Seq == seq {
			return m.frames[i], nil
		}
	}
	return framelog.Frame{}, framelog.ErrNotFound
}

func (m *memLog) FramesBack(n int) ([]framelog.Frame, error) {
	if n <= 0 || m.visible == 0 {
		return nil, nil
	}
	start := m.visible - n
	if start < 0 {
		start = 0
	}
	out := make([]framelog.Frame, m.visible-start)
	copy(out, m.frames[start:m.visible])
	return out, nil
}

func (m *memLog) CrystallizedBefore(seq int64) ([]string, error) {
	var out []string
	for i := 0; i < m.visible; i++ {
		f := m.frames[i]
		if f.Seq < seq && f.CrystallizedArtifact != "" {
			out = append(out, f.CrystallizedArtifact)
		}
	}
	return out, nil
}

// #endregion memlog

// #region replay
// Replay re-derives the arbiter and guard decision at every frame, feeding
// each evaluation only the frames that preceded it plus the frame itself.
// Identical inputs always produce identical results.
func Replay(ctx context.Context, frames []framelog.Frame, config Config) ([]Result, error) {
	log := &memLog{frames: frames}
	extractor := signals.NewExtractor(log)
	arb := arbiter.New(log, extractor, nil, config.ArbiterConfig)
	g := guard.New(log, config.Embedder, nil, nil, config.GuardConfig)

	results := make([]Result, 0, len(frames))
	for i, frame := range frames {
		log.visible = i + 1

		verdict, err := arb.Evaluate(frame)
		if err != nil {
			return nil, fmt.Errorf("replay arbitration at seq %d: %w", frame.Seq, err)
		}
		report, err := g.Evaluate(ctx, frame, verdict)
		if err != nil {
			return nil, fmt.Errorf("replay guard at seq %d: %w", frame.Seq, err)
		}

		results = append(results, Result{
			Seq:             frame.Seq,
			Verdict:         verdict,
			Report:          report,
			FinalEmerged:    report.FinalEmerged,
			FinalConfidence: report.FinalConfidence,
		})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{TotalFrames: len(results), FirstEmerged: -1}
	for _, r := range results {
		if len(r.Verdict.Reasons) == 1 {
			switch r.Verdict.Reasons[0] {
			case arbiter.ReasonTooEarly:
				s.TooEarly++
			case arbiter.ReasonCircular:
				s.Circular++
			}
		}
		if r.Verdict.Emerged {
			s.RawEmerged++
		}
		if r.FinalEmerged {
			s.FinalEmerged++
			if s.FirstEmerged < 0 {
				s.FirstEmerged = r.Seq
			}
		}
		if len(r.Report.Flags) > 0 {
			s.Flagged++
		}
	}
	return s
}

// #endregion replay
