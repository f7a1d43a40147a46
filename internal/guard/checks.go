package guard

import (
	"context"
	"strings"

	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region coherence

// coherence computes mean pairwise embedding similarity over the last N
// action summaries. A nil embedder or an embed failure degrades to
// unavailable; the check is then skipped, not zeroed.
func (g *Guard) coherence(ctx context.Context, frames []framelog.Frame) signals.Measurement {
	if g.embedder == nil || len(frames) < 2 {
		return signals.Unavailable()
	}

	vecs := make([][]float32, 0, len(frames))
	for _, f := range frames {
		v, err := g.embedder.Embed(ctx, f.ActionSummary)
		if err != nil {
			return signals.Errored()
		}
		vecs = append(vecs, v)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += framelog.Cosine(vecs[i], vecs[j])
			pairs++
		}
	}
	return signals.Computed(sum / float64(pairs))
}

// #endregion coherence

// #region semantic-cycle

// semanticCycle recomputes circularity with embeddings: the fraction of
// non-adjacent frame pairs whose summaries embed within SemanticCycleSim of
// each other. Exceeding SemanticCycleFrac overrides emergence outright.
func (g *Guard) semanticCycle(ctx context.Context, frames []framelog.Frame) (bool, signals.Measurement) {
	if g.embedder == nil || len(frames) < 3 {
		return false, signals.Unavailable()
	}

	vecs := make([][]float32, 0, len(frames))
	for _, f := range frames {
		v, err := g.embedder.Embed(ctx, f.ActionSummary)
		if err != nil {
			return false, signals.Errored()
		}
		vecs = append(vecs, v)
	}

	var near, pairs int
	for i := 0; i < len(vecs); i++ {
		for j := i + 2; j < len(vecs); j++ { // non-adjacent only
			pairs++
			if framelog.Cosine(vecs[i], vecs[j]) >= g.config.SemanticCycleSim {
				near++
			}
		}
	}
	if pairs == 0 {
		return false, signals.Unavailable()
	}
	frac := float64(near) / float64(pairs)
	return frac > g.config.SemanticCycleFrac, signals.Computed(frac)
}

// #endregion semantic-cycle

// #region lexical

// modifierWords are qualifiers whose insertion alone should not read as new
// work.
var modifierWords = map[string]struct{}{
	"very": {}, "really": {}, "quite": {}, "extremely": {}, "highly": {},
	"slightly": {}, "notably": {}, "significantly": {}, "substantially": {},
	"more": {}, "most": {}, "better": {}, "further": {}, "additionally": {},
	"improved": {}, "enhanced": {}, "refined": {}, "robust": {}, "novel": {},
	"new": {}, "advanced": {}, "carefully": {}, "thoroughly": {},
}

// synonymCanon folds common verb synonyms onto one canonical root so
// cycling through them reads as repetition.
var synonymCanon = map[string]string{
	"improve": "improve", "improving": "improve", "enhance": "improve",
	"enhancing": "improve", "boost": "improve", "boosting": "improve",
	"optimize": "improve", "optimizing": "improve", "refine": "improve",
	"refining": "improve",
	"create": "create", "creating": "create", "build": "create",
	"building": "create", "construct": "create", "constructing": "create",
	"generate": "create", "generating": "create", "produce": "create",
	"producing": "create",
	"analyze": "analyze", "analyzing": "analyze", "examine": "analyze",
	"examining": "analyze", "inspect": "analyze", "inspecting": "analyze",
	"study": "analyze", "studying": "analyze", "review": "analyze",
	"reviewing": "analyze",
}

// lexicalGaming scans consecutive frame pairs for cheap-entropy patterns:
// the same summary with only modifiers changed, or the same summary with
// verbs rotated through synonyms. Each pattern is a flag, not a reject.
func lexicalGaming(frames []framelog.Frame) []Flag {
	var modifier, synonym bool
	for i := 1; i < len(frames); i++ {
		prev, cur := frames[i-1].ActionSummary, frames[i].ActionSummary
		if prev == cur {
			continue // plain repetition is the circular check's business
		}
		if stripModifiers(prev) == stripModifiers(cur) && stripModifiers(cur) != "" {
			modifier = true
			continue
		}
		if canonicalize(prev) == canonicalize(cur) && canonicalize(cur) != "" {
			synonym = true
		}
	}

	var flags []Flag
	if modifier {
		flags = append(flags, FlagModifierInsertion)
	}
	if synonym {
		flags = append(flags, FlagSynonymCycling)
	}
	return flags
}

func stripModifiers(summary string) string {
	var kept []string
	for _, tok := range strings.Fields(strings.ToLower(summary)) {
		if _, ok := modifierWords[strings.Trim(tok, ".,;:!?")]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func canonicalize(summary string) string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(summary)) {
		clean := strings.Trim(tok, ".,;:!?")
		if canon, ok := synonymCanon[clean]; ok {
			out = append(out, canon)
			continue
		}
		out = append(out, clean)
	}
	return strings.Join(out, " ")
}

// #endregion lexical

// #region domain-balance

// domainBalance enforces breadth over a rolling window of claimed
// improvements: at least two distinct domain tags once the window has
// enough entries, and no more than the configured share tagged "easy".
func (g *Guard) domainBalance(frames []framelog.Frame) []Flag {
	var improvements []framelog.Frame
	for _, f := range frames {
		if f.Succeeded {
			improvements = append(improvements, f)
		}
	}
	if len(improvements) > g.config.DomainWindow {
		improvements = improvements[len(improvements)-g.config.DomainWindow:]
	}
	if len(improvements) < g.config.DomainWindow {
		return nil
	}

	domains := make(map[string]struct{})
	var easy int
	for _, f := range improvements {
		domains[f.DomainTag] = struct{}{}
		if strings.EqualFold(f.Difficulty, "easy") {
			easy++
		}
	}

	var flags []Flag
	if len(domains) < 2 {
		flags = append(flags, FlagDomainMonoculture)
	}
	if float64(easy)/float64(len(improvements)) > g.config.EasyShareLimit {
		flags = append(flags, FlagEasySkew)
	}
	return flags
}

// #endregion domain-balance

// #region historical-novelty

// historicalNovelty compares the current frame's belief texts against the
// beliefs recorded NoveltyLookback frames ago. A close match means the
// claim was repackaged, not discovered.
func (g *Guard) historicalNovelty(ctx context.Context, current framelog.Frame) (bool, signals.Measurement) {
	if g.embedder == nil || len(current.BeliefDelta) == 0 {
		return false, signals.Unavailable()
	}
	past, err := g.log.FrameAt(current.Seq - g.config.NoveltyLookback)
	if err != nil || len(past.BeliefDelta) == 0 {
		return false, signals.Unavailable()
	}

	pastVecs := make([][]float32, 0, len(past.BeliefDelta))
	for _, text := range past.BeliefDelta {
		v, err := g.embedder.Embed(ctx, text)
		if err != nil {
			return false, signals.Errored()
		}
		pastVecs = append(pastVecs, v)
	}

	var maxSim float64
	for _, text := range current.BeliefDelta {
		v, err := g.embedder.Embed(ctx, text)
		if err != nil {
			return false, signals.Errored()
		}
		for _, pv := range pastVecs {
			if sim := framelog.Cosine(v, pv); sim > maxSim {
				maxSim = sim
			}
		}
	}
	return maxSim > g.config.NoveltySim, signals.Computed(maxSim)
}

// #endregion historical-novelty
