package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// #region deterministic
// Deterministic is an offline embedder: each token hashes to a handful of
// dimensions, so identical texts embed identically and token overlap shows
// up as cosine similarity. Used by the replay tool and tests, where verdict
// reproducibility matters more than semantic fidelity.
type Deterministic struct {
	Dim int
}

// NewDeterministic returns a Deterministic embedder with the given
// dimensionality (64 when zero or negative).
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 64
	}
	return &Deterministic{Dim: dim}
}

// Embed never fails.
func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		for i := 0; i < 4; i++ {
			idx := int(binary.LittleEndian.Uint32(sum[i*8:])) % d.Dim
			if idx < 0 {
				idx += d.Dim
			}
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// #endregion deterministic
