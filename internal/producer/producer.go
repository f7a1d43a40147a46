package producer

import (
	"context"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// #region advisory
// Advisory is the read-only summary the controller may hand the producer
// before requesting the next outcome. It is a value snapshot: the producer
// can read it but holds no handle back into the loop's components.
type Advisory struct {
	IterationCount      int64   `json:"iteration_count"`
	EntropyTrend        string  `json:"entropy_trend"` // "rising" | "falling" | "flat"
	PositiveSignalsHour int     `json:"positive_signals_last_hour"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	RemainingIterations int64   `json:"remaining_iterations"`
	RemainingCostUSD    float64 `json:"remaining_cost_usd"`
}

// #endregion advisory

// #region interface
// Producer supplies one iteration outcome per call. It must return within
// the caller's context deadline or the iteration counts as failed.
type Producer interface {
	NextOutcome(ctx context.Context, advisory *Advisory) (framelog.Outcome, error)
}

// #endregion interface
