package grade

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/vector"
	"golang.org/x/sync/errgroup"
)

// Label buckets a relevance score.
type Label string

const (
	High   Label = "high"
	Medium Label = "medium"
	Low    Label = "low"
)

// Method names the scoring strategy that produced a result.
type Method string

const (
	MethodKeyword  Method = "keyword"
	MethodSemantic Method = "semantic"
	MethodHybrid   Method = "hybrid"
)

// Result maps chunk IDs to labels and raw scores.
type Result struct {
	Grades map[string]Label
	Scores map[string]float64
	Method Method
}

// Summary renders "high/medium/low" counts for the verification event.
func (r *Result) Summary() (high, medium, low int) {
	for _, label := range r.Grades {
		switch label {
		case High:
			high++
		case Medium:
			medium++
		default:
			low++
		}
	}
	return
}

// Grader scores retrieved candidates against the query.
type Grader struct {
	embedder    vector.Embedder
	useSemantic bool
	highT       float64
	mediumT     float64
	logger      *slog.Logger
}

// NewGrader creates a grader. embedder is only needed for semantic scoring.
func NewGrader(embedder vector.Embedder, useSemantic bool, highT, mediumT float64) *Grader {
	if highT <= 0 {
		highT = 0.5
	}
	if mediumT <= 0 {
		mediumT = 0.2
	}
	return &Grader{
		embedder:    embedder,
		useSemantic: useSemantic,
		highT:       highT,
		mediumT:     mediumT,
		logger:      logging.WithComponent("grader"),
	}
}

// Grade scores every candidate. Method selection: hybrid when semantic
// grading is enabled and a query embedding is present, semantic when only the
// embedding is present, keyword otherwise. A missing embedding never errors.
func (g *Grader) Grade(ctx context.Context, query string, candidates []document.Candidate, queryEmbedding []float32) (*Result, error) {
	res := &Result{
		Grades: make(map[string]Label, len(candidates)),
		Scores: make(map[string]float64, len(candidates)),
		Method: MethodKeyword,
	}
	if len(candidates) == 0 {
		return res, nil
	}

	hasEmbedding := len(queryEmbedding) > 0 && g.embedder != nil
	switch {
	case g.useSemantic && hasEmbedding:
		res.Method = MethodHybrid
	case hasEmbedding:
		res.Method = MethodSemantic
	}

	var semantic []float64
	if res.Method != MethodKeyword {
		var err error
		semantic, err = g.semanticScores(ctx, queryEmbedding, candidates)
		if err != nil {
			g.logger.Warn("semantic grading failed, using keyword scores", "error", err)
			res.Method = MethodKeyword
		}
	}

	queryTokens := tokenSet(query)
	for i, cand := range candidates {
		kw := keywordScore(queryTokens, cand.Content)
		score := kw
		switch res.Method {
		case MethodSemantic:
			score = semantic[i]
		case MethodHybrid:
			score = 0.7*semantic[i] + 0.3*kw
		}
		res.Scores[cand.ChunkID] = score
		res.Grades[cand.ChunkID] = g.label(score)
	}
	return res, nil
}

// Split partitions candidates by their assigned label, preserving order.
func Split(candidates []document.Candidate, res *Result) (high, medium, low []document.Candidate) {
	for _, cand := range candidates {
		switch res.Grades[cand.ChunkID] {
		case High:
			high = append(high, cand)
		case Medium:
			medium = append(medium, cand)
		default:
			low = append(low, cand)
		}
	}
	return
}

func (g *Grader) label(score float64) Label {
	switch {
	case score > g.highT:
		return High
	case score > g.mediumT:
		return Medium
	default:
		return Low
	}
}

// semanticScores embeds all chunks concurrently and compares with the query.
func (g *Grader) semanticScores(ctx context.Context, queryEmbedding []float32, candidates []document.Candidate) ([]float64, error) {
	scores := make([]float64, len(candidates))
	eg, ctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		eg.Go(func() error {
			vec, err := g.embedder.Embed(ctx, cand.Content)
			if err != nil {
				return err
			}
			scores[i] = float64(vector.CosineSimilarity(queryEmbedding, vec))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
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

// keywordScore is the overlap ratio over the query token count, not the union.
func keywordScore(queryTokens map[string]struct{}, content string) float64 {
	contentTokens := tokenSet(content)
	inter := 0
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			inter++
		}
	}
	denom := len(queryTokens)
	if denom < 1 {
		denom = 1
	}
	return float64(inter) / float64(denom)
}
