package rerank

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
)

// Model scores candidate texts against a query; higher is better.
// Implementations call an external rerank endpoint.
type Model interface {
	Scores(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Reranker reorders candidates. With a model backend the model score replaces
// the candidate score; without one (or when the model errors) it falls back
// to a token-Jaccard blend with the fused prior.
type Reranker struct {
	model  Model
	logger *slog.Logger
}

// New creates a reranker. model may be nil.
func New(model Model) *Reranker {
	return &Reranker{
		model:  model,
		logger: logging.WithComponent("reranker"),
	}
}

// Rerank annotates every candidate with a rerank score and returns the set
// sorted descending by it. The fused prior in Score is left untouched.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []document.Candidate) []document.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	out := make([]document.Candidate, len(candidates))
	copy(out, candidates)

	if r.model != nil {
		texts := make([]string, len(out))
		for i, c := range out {
			texts[i] = c.Content
		}
		scores, err := r.model.Scores(ctx, query, texts)
		if err == nil && len(scores) == len(out) {
			for i := range out {
				s := scores[i]
				out[i].RerankScore = &s
			}
			sortByRerank(out)
			return out
		}
		if err != nil {
			r.logger.Warn("rerank model failed, using jaccard fallback", "error", err)
		}
	}

	telemetry.M().RerankFallback(ctx)
	queryTokens := tokenSet(query)
	for i := range out {
		j := jaccard(queryTokens, tokenSet(out[i].Content))
		s := 0.7*j + 0.3*out[i].Score
		out[i].RerankScore = &s
	}
	sortByRerank(out)
	return out
}

func sortByRerank(candidates []document.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})
}

var tokenRegex = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(text string) map[string]struct{} {
	tokens := tokenRegex.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float32 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}
