package framelog

import "strings"

// #region diversity
// DiversityScore is the cheap write-time proxy for lexical diversity: the
// fraction of distinct tokens in the action summary. It is intentionally
// shallow; separating genuine novelty from noise is the guard's job.
func DiversityScore(summary string) float64 {
	tokens := strings.Fields(strings.ToLower(summary))
	if len(tokens) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}
	score := float64(len(unique)) / float64(len(tokens))
	if score > 1 {
		score = 1
	}
	return score
}

// #endregion diversity
