package classify

import (
	"context"
	"errors"
	"testing"
)

func TestGreetingIsDirect(t *testing.T) {
	d := Heuristic("hi", Options{UseRag: true, UseWeb: true})
	if d.Mode != ModeDirect {
		t.Fatalf("expected direct mode, got %s", d.Mode)
	}
	if d.Complexity != ComplexityLow {
		t.Fatalf("expected low complexity, got %s", d.Complexity)
	}
}

func TestRecencyAddsWebTarget(t *testing.T) {
	d := Heuristic("What were the AI breakthroughs in 2024?", Options{UseRag: true, UseWeb: true})
	if d.Mode != ModeRetrieve {
		t.Fatalf("expected retrieve mode, got %s", d.Mode)
	}
	if !contains(d.Targets, TargetVector) || !contains(d.Targets, TargetWeb) {
		t.Fatalf("expected vector and web targets, got %v", d.Targets)
	}
}

func TestSQLIndicators(t *testing.T) {
	d := Heuristic("SELECT count FROM documents", Options{UseRag: true})
	if !contains(d.Targets, TargetSQL) {
		t.Fatalf("expected sql target, got %v", d.Targets)
	}
}

func TestComplexityBands(t *testing.T) {
	long := "compare the ingestion pipeline with the retrieval pipeline across every store and explain the tradeoffs"
	if d := Heuristic(long, Options{UseRag: true}); d.Complexity != ComplexityHigh {
		t.Fatalf("expected high complexity, got %s", d.Complexity)
	}
	if d := Heuristic("why caching", Options{UseRag: true}); d.Complexity != ComplexityMedium {
		t.Fatalf("expected medium complexity, got %s", d.Complexity)
	}
}

func TestRetrieveWithEmptyTargetsGetsVector(t *testing.T) {
	d := Heuristic("explain the architecture of the system in detail please", Options{})
	if d.Mode != ModeRetrieve {
		t.Fatalf("expected retrieve mode, got %s", d.Mode)
	}
	if !contains(d.Targets, TargetVector) {
		t.Fatalf("expected vector default, got %v", d.Targets)
	}
}

func TestWebOnlyRetrieves(t *testing.T) {
	d := Heuristic("stuff", Options{UseRag: false, UseWeb: true})
	if d.Mode != ModeRetrieve {
		t.Fatalf("web-only should retrieve, got %s", d.Mode)
	}
	if !contains(d.Targets, TargetWeb) {
		t.Fatalf("expected web target, got %v", d.Targets)
	}
}

type stubLLM struct {
	out string
	err error
}

func (s *stubLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	return s.out, s.err
}

func TestLLMClassifierFenceTolerance(t *testing.T) {
	c := NewClassifier(&stubLLM{out: "```json\n{\"mode\":\"retrieve\",\"complexity\":\"high\",\"targets\":[\"vector\",\"web\"]}\n```"}, true)
	d := c.Classify(context.Background(), "anything", Options{UseRag: true, UseWeb: true})
	if d.Mode != ModeRetrieve || d.Complexity != ComplexityHigh {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !contains(d.Targets, TargetVector) || !contains(d.Targets, TargetWeb) {
		t.Fatalf("unexpected targets: %v", d.Targets)
	}
}

func TestLLMClassifierIntersectsTargets(t *testing.T) {
	c := NewClassifier(&stubLLM{out: `{"mode":"retrieve","complexity":"low","targets":["web","vector"]}`}, true)
	d := c.Classify(context.Background(), "anything", Options{UseRag: true, UseWeb: false})
	if contains(d.Targets, TargetWeb) {
		t.Fatalf("disabled web target leaked through: %v", d.Targets)
	}
	if !contains(d.Targets, TargetVector) {
		t.Fatalf("expected vector target, got %v", d.Targets)
	}
}

func TestLLMClassifierErrorFallsBack(t *testing.T) {
	c := NewClassifier(&stubLLM{err: errors.New("boom")}, true)
	d := c.Classify(context.Background(), "hello", Options{UseRag: true})
	if d.Mode != ModeDirect {
		t.Fatalf("expected heuristic fallback to direct, got %s", d.Mode)
	}
}

func TestExpandShortQuery(t *testing.T) {
	r := NewRewriter(nil)
	rw := r.Expand("vector search")
	if !rw.Changed {
		t.Fatal("expected rewrite")
	}
	if rw.Rewritten != "vector search (context: RAG chat app, hybrid retrieval, citations)" {
		t.Fatalf("unexpected rewrite: %q", rw.Rewritten)
	}
	if rw.Reason != "Short/ambiguous query expanded" {
		t.Fatalf("unexpected reason: %q", rw.Reason)
	}

	long := "how does hybrid retrieval combine vector and keyword scores"
	if rw := r.Expand(long); rw.Changed {
		t.Fatalf("long query should pass through, got %q", rw.Rewritten)
	}
}

func TestRefineWithoutClient(t *testing.T) {
	r := NewRewriter(nil)
	rw := r.Refine(context.Background(), "caching strategy", "insufficient evidence")
	if !rw.Changed || rw.Rewritten == "caching strategy" {
		t.Fatalf("expected deterministic refinement, got %+v", rw)
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
