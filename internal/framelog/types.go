package framelog

import (
	"errors"
	"fmt"
	"time"
)

// #region frame
// CurrentSchemaVersion tags frames so readers can detect field additions.
const CurrentSchemaVersion = 1

// GenesisParentHash is the sentinel parent hash of the first frame.
const GenesisParentHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Frame is the immutable record of one iteration. Once appended it is never
// mutated or deleted; ContentHash is recomputable from every other field.
type Frame struct {
	SchemaVersion int       `json:"schema_version"`
	FrameID       string    `json:"frame_id"`
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`

	PhaseReached         string            `json:"phase_reached"`
	ActionSummary        string            `json:"action_summary"`
	DomainTag            string            `json:"domain_tag"`
	Difficulty           string            `json:"difficulty"`
	Succeeded            bool              `json:"succeeded"`
	CrystallizedArtifact string            `json:"crystallized_artifact,omitempty"`
	BeliefDelta          map[string]string `json:"belief_delta,omitempty"`
	CapabilityDelta      map[string]string `json:"capability_delta,omitempty"`
	DiversityScore       float64           `json:"diversity_score"`
	LoopIteration        int64             `json:"loop_iteration,omitempty"`
	ResourceUsage        map[string]float64 `json:"resource_usage,omitempty"`

	ParentHash  string `json:"parent_hash"`
	ContentHash string `json:"content_hash"`
}

// #endregion frame

// #region outcome
// Outcome is the writable payload an iteration producer hands to Append.
// Everything else on the Frame (seq, hashes, diversity, timestamp) is
// assigned by the store.
type Outcome struct {
	PhaseReached         string
	ActionSummary        string
	DomainTag            string
	Difficulty           string
	Succeeded            bool
	CrystallizedArtifact string
	BeliefDelta          map[string]string
	CapabilityDelta      map[string]string
	LoopIteration        int64
	ResourceUsage        map[string]float64
}

// #endregion outcome

// #region errors
// ErrAppendContended signals a concurrent append was in flight. The caller
// must retry; the store never queues or silently drops a frame.
var ErrAppendContended = errors.New("append contended: concurrent append in flight")

// ErrNotFound signals a time-travel or lookup miss.
var ErrNotFound = errors.New("frame not found")

// ErrLogHalted signals the store observed a chain break and refuses writes
// until the database is repaired or resynced out of band.
var ErrLogHalted = errors.New("frame log halted after integrity failure")

// IntegrityError reports the first sequence number at which the hash chain
// is broken. It is fatal: the store stops accepting writes.
type IntegrityError struct {
	Seq int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash chain broken at seq %d", e.Seq)
}

// #endregion errors
