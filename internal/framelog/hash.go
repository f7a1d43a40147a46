package framelog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// #region hash-envelope
// hashEnvelope is the canonical hashing form of a frame: every field except
// ContentHash, with the timestamp pinned to an RFC3339Nano string so a frame
// read back from storage hashes identically to the frame that was written.
// encoding/json sorts map keys, which keeps the delta maps canonical.
type hashEnvelope struct {
	SchemaVersion        int                `json:"schema_version"`
	FrameID              string             `json:"frame_id"`
	Seq                  int64              `json:"seq"`
	Timestamp            string             `json:"timestamp"`
	PhaseReached         string             `json:"phase_reached"`
	ActionSummary        string             `json:"action_summary"`
	DomainTag            string             `json:"domain_tag"`
	Difficulty           string             `json:"difficulty"`
	Succeeded            bool               `json:"succeeded"`
	CrystallizedArtifact string             `json:"crystallized_artifact"`
	BeliefDelta          map[string]string  `json:"belief_delta"`
	CapabilityDelta      map[string]string  `json:"capability_delta"`
	DiversityScore       float64            `json:"diversity_score"`
	LoopIteration        int64              `json:"loop_iteration"`
	ResourceUsage        map[string]float64 `json:"resource_usage"`
	ParentHash           string             `json:"parent_hash"`
}

// #endregion hash-envelope

// #region compute-hash
// ComputeContentHash recomputes the content hash of a frame from its fields.
// It must reproduce the stored hash exactly for any frame read back from the
// store; VerifyIntegrity depends on that.
func ComputeContentHash(f Frame) string {
	env := hashEnvelope{
		SchemaVersion:        f.SchemaVersion,
		FrameID:              f.FrameID,
		Seq:                  f.Seq,
		Timestamp:            f.Timestamp.UTC().Format(time.RFC3339Nano),
		PhaseReached:         f.PhaseReached,
		ActionSummary:        f.ActionSummary,
		DomainTag:            f.DomainTag,
		Difficulty:           f.Difficulty,
		Succeeded:            f.Succeeded,
		CrystallizedArtifact: f.CrystallizedArtifact,
		BeliefDelta:          f.BeliefDelta,
		CapabilityDelta:      f.CapabilityDelta,
		DiversityScore:       f.DiversityScore,
		LoopIteration:        f.LoopIteration,
		ResourceUsage:        f.ResourceUsage,
		ParentHash:           f.ParentHash,
	}
	// Marshal of a map-free-of-funcs struct cannot fail.
	data, _ := json.Marshal(env)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// #endregion compute-hash
