package controller

import (
	"fmt"
	"time"
)

// #region state
// State is the loop's lifecycle state. The final status is always one of
// the three stopped states; the loop never silently hangs or crashes
// undifferentiated.
type State string

const (
	StateRunning           State = "RUNNING"
	StateStoppedEmerged    State = "STOPPED_EMERGED"
	StateStoppedExhausted  State = "STOPPED_RESOURCE_EXHAUSTED"
	StateStoppedError      State = "STOPPED_ERROR"
)

// #endregion state

// #region budget
// Budget tracks resource consumption against configured limits. Owned
// exclusively by the loop; a zero limit disables that counter.
type Budget struct {
	IterationsUsed int64
	CostUsedUSD    float64
	SecondsElapsed float64

	MaxIterations     int64
	MaxCostUSD        float64
	MaxRuntimeSeconds float64
}

// Exhausted reports whether any budget counter met its limit, with a short
// reason for logging.
func (b *Budget) Exhausted() (bool, string) {
	if b.MaxIterations > 0 && b.IterationsUsed >= b.MaxIterations {
		return true, fmt.Sprintf("iterations %d/%d", b.IterationsUsed, b.MaxIterations)
	}
	if b.MaxCostUSD > 0 && b.CostUsedUSD >= b.MaxCostUSD {
		return true, fmt.Sprintf("cost %.2f/%.2f USD", b.CostUsedUSD, b.MaxCostUSD)
	}
	if b.MaxRuntimeSeconds > 0 && b.SecondsElapsed >= b.MaxRuntimeSeconds {
		return true, fmt.Sprintf("runtime %.0f/%.0f s", b.SecondsElapsed, b.MaxRuntimeSeconds)
	}
	return false, ""
}

// #endregion budget

// #region config
// Config holds loop tunables.
type Config struct {
	CheckpointInterval int64         // checkpoint every N iterations
	ProducerTimeout    time.Duration // per-call deadline for the producer
	AppendRetries      int           // retries on append contention
	AdvisoryEnabled    bool          // pass the one-way advisory to the producer
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: 5,
		ProducerTimeout:    60 * time.Second,
		AppendRetries:      3,
		AdvisoryEnabled:    true,
	}
}

// #endregion config

// #region checkpoint
// Snapshot is the metadata handed to the checkpoint sink.
type Snapshot struct {
	Seq          int64     `json:"seq"`
	Iteration    int64     `json:"iteration"`
	State        State     `json:"state"`
	Trigger      string    `json:"trigger"`
	FinalEmerged bool      `json:"final_emerged"`
	CreatedAt    time.Time `json:"created_at"`
}

// CheckpointSink persists loop snapshots. Commit failures are logged and
// never fail an iteration.
type CheckpointSink interface {
	Commit(snapshot Snapshot) error
}

// #endregion checkpoint
