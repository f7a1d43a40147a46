package guard

import "testing"

func TestSpecificity(t *testing.T) {
	if got := specificity("when parse errors repeat, cache the token stream"); got != 1 {
		t.Fatalf("concrete artifact: expected 1, got %f", got)
	}
	if got := specificity("it depends"); got > 0.41 {
		t.Fatalf("vague short artifact: expected heavy penalty, got %f", got)
	}
}

func TestActionability(t *testing.T) {
	if got := actionability("when the queue is full, retry with backoff"); got != 1 {
		t.Fatalf("trigger+action: expected 1, got %f", got)
	}
	if got := actionability("use smaller batches"); got != 0.5 {
		t.Fatalf("action only: expected 0.5, got %f", got)
	}
	if got := actionability("things were generally fine"); got != 0 {
		t.Fatalf("neither: expected 0, got %f", got)
	}
}

func TestTrajectoryQuality(t *testing.T) {
	frames := variedFrames(4, true)
	frames[0].Succeeded = false
	if got := trajectoryQuality(frames); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}
	if got := trajectoryQuality(nil); got != 0 {
		t.Fatalf("expected 0 on empty history, got %f", got)
	}
}

func TestArtifactNoveltyLexicalFallback(t *testing.T) {
	g := New(nil, nil, nil, nil, DefaultConfig())

	if got := g.artifactNovelty(nil, "anything", nil); got != 1 {
		t.Fatalf("no priors: expected 1, got %f", got)
	}

	same := g.artifactNovelty(nil, "cache the parse tree", []string{"cache the parse tree"})
	if same != 0 {
		t.Fatalf("identical artifact: expected novelty 0, got %f", same)
	}

	fresh := g.artifactNovelty(nil, "batch disk writes nightly", []string{"cache the parse tree"})
	if fresh != 1 {
		t.Fatalf("disjoint artifact: expected novelty 1, got %f", fresh)
	}
}
