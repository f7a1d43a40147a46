package logging

import "time"

// #region verdict-entry
// VerdictEntry is a single row in the verdict_log table: the arbiter's raw
// verdict plus the guard's final verdict for one evaluated frame.
type VerdictEntry struct {
	Seq             int64
	RawEmerged      bool
	RawConfidence   float64
	Reasons         []string
	Flags           []string
	GamingScore     float64
	QualityScore    float64
	FinalConfidence float64
	FinalEmerged    bool
	CreatedAt       time.Time
}

// #endregion verdict-entry
