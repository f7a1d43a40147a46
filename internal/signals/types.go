package signals

import "github.com/probematter/emergence-loop/internal/framelog"

// #region measurement

// Status distinguishes "signal genuinely zero" from "signal could not be
// computed", which matters for confidence weighting downstream.
type Status string

const (
	StatusComputed    Status = "computed"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// Measurement is the tri-state result of a degradable signal computation.
type Measurement struct {
	Value  float64
	Status Status
}

// Computed wraps a successfully computed value.
func Computed(v float64) Measurement {
	return Measurement{Value: v, Status: StatusComputed}
}

// Unavailable marks a signal whose dependency was missing; downstream
// treats it as neutral, not zero.
func Unavailable() Measurement {
	return Measurement{Status: StatusUnavailable}
}

// Errored marks a signal whose computation failed.
func Errored() Measurement {
	return Measurement{Status: StatusError}
}

// OK reports whether the value may be used.
func (m Measurement) OK() bool {
	return m.Status == StatusComputed
}

// #endregion measurement

// #region frame-reader

// FrameReader is the read-only slice of the frame log the extractor needs.
// *framelog.Store satisfies it; the replay harness provides an in-memory one.
type FrameReader interface {
	Count() (int64, error)
	Latest() (framelog.Frame, error)
	FrameAt(seq int64) (framelog.Frame, error)
	FramesBack(n int) ([]framelog.Frame, error)
}

// #endregion frame-reader

// #region bundle

// CircularResult reports lexical repetition over a window.
type CircularResult struct {
	IsCircular            bool
	RepeatedActionSamples []string // up to two examples, for diagnostics
}

// Bundle holds one evaluation's extracted signals. Recomputed per
// evaluation; never persisted.
type Bundle struct {
	EntropyDelta          float64
	IsCircular            bool
	RepeatedActionSamples []string
	BeliefDiffRatio       float64
	CapabilityGained      bool
}

// #endregion bundle
