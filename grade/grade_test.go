package grade

import (
	"context"
	"testing"

	"github.com/sweetpotato0/ragline/contrib/embedder/mock"
	"github.com/sweetpotato0/ragline/document"
)

func TestKeywordGrading(t *testing.T) {
	g := NewGrader(nil, false, 0.5, 0.2)
	cands := []document.Candidate{
		{ChunkID: "a", Content: "hybrid retrieval fuses vector and keyword scores"},
		{ChunkID: "b", Content: "completely unrelated cooking recipe"},
	}
	res, err := g.Grade(context.Background(), "hybrid retrieval vector", cands, nil)
	if err != nil {
		t.Fatalf("Grade error: %v", err)
	}
	if res.Method != MethodKeyword {
		t.Fatalf("expected keyword method, got %s", res.Method)
	}
	if res.Grades["a"] != High {
		t.Fatalf("expected a graded high, got %s (score %v)", res.Grades["a"], res.Scores["a"])
	}
	if res.Grades["b"] != Low {
		t.Fatalf("expected b graded low, got %s", res.Grades["b"])
	}
}

func TestHybridSelection(t *testing.T) {
	emb := mock.New(64)
	g := NewGrader(emb, true, 0.5, 0.2)
	query := "vector databases"
	qv, _ := emb.Embed(context.Background(), query)

	cands := []document.Candidate{{ChunkID: "a", Content: "vector databases store embeddings"}}
	res, err := g.Grade(context.Background(), query, cands, qv)
	if err != nil {
		t.Fatalf("Grade error: %v", err)
	}
	if res.Method != MethodHybrid {
		t.Fatalf("expected hybrid method, got %s", res.Method)
	}
}

func TestMissingEmbeddingFallsBackToKeyword(t *testing.T) {
	emb := mock.New(64)
	g := NewGrader(emb, true, 0.5, 0.2)
	res, err := g.Grade(context.Background(), "q", []document.Candidate{{ChunkID: "a", Content: "q"}}, nil)
	if err != nil {
		t.Fatalf("Grade error: %v", err)
	}
	if res.Method != MethodKeyword {
		t.Fatalf("expected silent keyword fallback, got %s", res.Method)
	}
}

func TestSplitPreservesOrder(t *testing.T) {
	res := &Result{Grades: map[string]Label{"a": High, "b": Medium, "c": High}}
	cands := []document.Candidate{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	high, medium, low := Split(cands, res)
	if len(high) != 2 || high[0].ChunkID != "a" || high[1].ChunkID != "c" {
		t.Fatalf("high split wrong: %+v", high)
	}
	if len(medium) != 1 || len(low) != 0 {
		t.Fatalf("unexpected split: %d medium, %d low", len(medium), len(low))
	}
}

func TestVerifierBands(t *testing.T) {
	v := NewVerifier(0.5, 4)
	evidence := []document.Candidate{{Content: "hybrid retrieval fuses vector and keyword signals into one ranking"}}

	ver := v.Verify("hybrid retrieval fuses vector keyword signals", evidence)
	if !ver.IsValid {
		t.Fatalf("expected valid, confidence=%v", ver.Confidence)
	}
	if ver.Confidence < 0.8 {
		t.Fatalf("expected strong support, got %v", ver.Confidence)
	}

	ver = v.Verify("quantum blockchain yodeling experiments", evidence)
	if ver.IsValid {
		t.Fatalf("expected invalid, confidence=%v", ver.Confidence)
	}
}

func TestVerifierWhitelistsTechnicalTerms(t *testing.T) {
	v := NewVerifier(0.5, 4)
	evidence := []document.Candidate{{Content: "sql and ai tooling"}}
	ver := v.Verify("sql ai", evidence)
	if ver.Confidence != 1 {
		t.Fatalf("short technical terms should count, confidence=%v", ver.Confidence)
	}
}
