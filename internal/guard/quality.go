package guard

import (
	"context"
	"strings"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// #region breakdown
// QualityBreakdown is the per-component crystallization quality score.
type QualityBreakdown struct {
	Specificity       float64
	Actionability     float64
	DomainRelevance   float64
	TrajectoryQuality float64
	Novelty           float64
	Composite         float64
	Accepted          bool
}

// #endregion breakdown

// vaguePhrases are templated fillers that make an artifact unactionable.
var vaguePhrases = []string{
	"in some cases", "it depends", "generally speaking", "as appropriate",
	"when relevant", "consider using", "might be useful", "and so on",
	"various approaches", "best practices", "where applicable",
}

// triggerWords open a condition an artifact can fire on.
var triggerWords = []string{"when ", "if ", "after ", "before ", "on ", "whenever ", "once "}

// actionVerbs are concrete things an artifact tells the loop to do.
var actionVerbs = []string{
	"use", "apply", "run", "check", "prefer", "avoid", "set", "add",
	"remove", "split", "retry", "cache", "verify", "measure", "replace",
	"limit", "batch",
}

// #region score
// scoreArtifact runs the five-component crystallization quality gate.
// priorArtifacts are every artifact crystallized before this frame.
func (g *Guard) scoreArtifact(ctx context.Context, current framelog.Frame, history []framelog.Frame, priorArtifacts []string) QualityBreakdown {
	artifact := current.CrystallizedArtifact
	b := QualityBreakdown{
		Specificity:       specificity(artifact),
		Actionability:     actionability(artifact),
		DomainRelevance:   domainRelevance(artifact, current, history),
		TrajectoryQuality: trajectoryQuality(history),
		Novelty:           g.artifactNovelty(ctx, artifact, priorArtifacts),
	}

	w := g.config.QualityWeights
	b.Composite = w.Specificity*b.Specificity +
		w.Actionability*b.Actionability +
		w.DomainRelevance*b.DomainRelevance +
		w.TrajectoryQuality*b.TrajectoryQuality +
		w.Novelty*b.Novelty
	b.Accepted = b.Composite >= g.config.QualityGate
	return b
}

// #endregion score

// #region components

// specificity penalizes vague templated phrasing and trivially short
// artifacts.
func specificity(artifact string) float64 {
	lower := strings.ToLower(artifact)
	score := 1.0
	for _, phrase := range vaguePhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.2
		}
	}
	if len(strings.Fields(artifact)) < 5 {
		score -= 0.4
	}
	if score < 0 {
		score = 0
	}
	return score
}

// actionability rewards the presence of both a trigger condition and a
// concrete action verb.
func actionability(artifact string) float64 {
	lower := " " + strings.ToLower(artifact)
	var hasTrigger, hasAction bool
	for _, t := range triggerWords {
		if strings.Contains(lower, " "+t) {
			hasTrigger = true
			break
		}
	}
	for _, v := range actionVerbs {
		if strings.Contains(lower, " "+v) {
			hasAction = true
			break
		}
	}
	switch {
	case hasTrigger && hasAction:
		return 1.0
	case hasTrigger || hasAction:
		return 0.5
	default:
		return 0
	}
}

// domainRelevance measures token overlap between the artifact and the
// current domain's recent action summaries.
func domainRelevance(artifact string, current framelog.Frame, history []framelog.Frame) float64 {
	artTokens := tokenSet(artifact)
	if len(artTokens) == 0 {
		return 0
	}

	domainTokens := tokenSet(current.DomainTag)
	for _, f := range history {
		if f.DomainTag == current.DomainTag {
			for t := range tokenSet(f.ActionSummary) {
				domainTokens[t] = struct{}{}
			}
		}
	}
	if len(domainTokens) == 0 {
		return 0
	}

	var overlap int
	for t := range artTokens {
		if _, ok := domainTokens[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(artTokens))
}

// trajectoryQuality is the success rate of the frames the artifact was
// distilled from.
func trajectoryQuality(history []framelog.Frame) float64 {
	if len(history) == 0 {
		return 0
	}
	var ok int
	for _, f := range history {
		if f.Succeeded {
			ok++
		}
	}
	return float64(ok) / float64(len(history))
}

// artifactNovelty is 1 minus the maximum similarity to any previously
// crystallized artifact. Embedding similarity when available, token
// Jaccard otherwise; the gate always has a novelty opinion.
func (g *Guard) artifactNovelty(ctx context.Context, artifact string, prior []string) float64 {
	if len(prior) == 0 {
		return 1
	}

	if g.embedder != nil {
		if cur, err := g.embedder.Embed(ctx, artifact); err == nil {
			maxSim := 0.0
			degraded := false
			for _, p := range prior {
				pv, err := g.embedder.Embed(ctx, p)
				if err != nil {
					degraded = true
					break
				}
				if sim := framelog.Cosine(cur, pv); sim > maxSim {
					maxSim = sim
				}
			}
			if !degraded {
				return 1 - maxSim
			}
		}
	}

	// lexical fallback
	curTokens := tokenSet(artifact)
	maxSim := 0.0
	for _, p := range prior {
		if sim := jaccard(curTokens, tokenSet(p)); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,;:!?")] = struct{}{}
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var inter int
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// #endregion components
