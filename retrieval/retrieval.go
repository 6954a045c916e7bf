// Package retrieval fans a query out to the vector stores and the trigram
// title index in parallel, fuses the results, and reranks them.
package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
	"github.com/sweetpotato0/ragline/rerank"
	"github.com/sweetpotato0/ragline/store"
	"github.com/sweetpotato0/ragline/vector"
)

// Default fusion weights. They need not sum to 1; both must be non-negative.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// ChunksPerTitleMatch caps how many chunks a single trigram-matched document
// may contribute.
const ChunksPerTitleMatch = 2

// Result carries the fused candidates and the query embedding, which the
// grader reuses.
type Result struct {
	Candidates     []document.Candidate
	QueryEmbedding []float32
}

// Retriever performs hybrid retrieval over the primary store, an optional
// secondary store, and the trigram title index.
type Retriever struct {
	embedder  vector.Embedder
	primary   store.Primary
	secondary store.Secondary
	reranker  *rerank.Reranker

	topK      int
	dualStore bool
	wVec      float32
	wKey      float32
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the number of candidates returned.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithDualStore enables the secondary vector store.
func WithDualStore(enabled bool) Option {
	return func(r *Retriever) { r.dualStore = enabled }
}

// WithWeights sets the fusion weights for vector and keyword priors.
func WithWeights(vec, key float32) Option {
	return func(r *Retriever) {
		if vec >= 0 {
			r.wVec = vec
		}
		if key >= 0 {
			r.wKey = key
		}
	}
}

// New creates a hybrid retriever. secondary may be nil when dual-store mode
// is off.
func New(embedder vector.Embedder, primary store.Primary, secondary store.Secondary, reranker *rerank.Reranker, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		primary:   primary,
		secondary: secondary,
		reranker:  reranker,
		topK:      6,
		wVec:      DefaultVectorWeight,
		wKey:      DefaultKeywordWeight,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.secondary == nil {
		r.secondary = store.DisabledSecondary{}
	}
	return r
}

// Retrieve embeds the query once, fans out to the enabled sources in
// parallel, fuses by maximum prior score per chunk, reranks, and returns the
// top candidates together with the query embedding. A secondary-store
// failure degrades silently; a primary or trigram-path failure fails the
// query.
func (r *Retriever) Retrieve(ctx context.Context, query string, useKeyword bool) (*Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "retrieval.retrieve")
	var retErr error
	defer func() { telemetry.End(span, retErr) }()

	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		retErr = err
		return nil, err
	}

	fetch := 2 * r.topK

	var (
		wg         sync.WaitGroup
		primaryRes []store.VectorHit
		primaryErr error
		secondRes  []store.PointHit
		keywordRes []document.Candidate
		keywordErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		primaryRes, primaryErr = r.primary.VectorSearch(ctx, qv, fetch)
	}()

	if r.dualStore {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := r.secondary.Search(ctx, qv, fetch)
			if err != nil {
				telemetry.M().SecondaryFallback(ctx)
				logging.Logger().Warn("secondary vector search failed, continuing with primary only",
					"component", "retrieval", "error", err)
				return
			}
			secondRes = hits
		}()
	}

	if useKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordRes, keywordErr = r.keywordSearch(ctx, query, fetch)
		}()
	}

	wg.Wait()
	if primaryErr != nil {
		retErr = primaryErr
		return nil, primaryErr
	}
	if keywordErr != nil {
		retErr = keywordErr
		return nil, keywordErr
	}

	merged := make(map[string]document.Candidate)
	keep := func(c document.Candidate) {
		if prev, ok := merged[c.ChunkID]; ok && prev.Score >= c.Score {
			return
		}
		merged[c.ChunkID] = c
	}

	for _, h := range primaryRes {
		keep(document.Candidate{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			Source:     h.Source,
			Score:      r.wVec * h.Similarity,
		})
	}
	for _, h := range secondRes {
		keep(document.Candidate{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			Source:     h.Source,
			Score:      r.wVec * h.Score,
		})
	}
	for _, c := range keywordRes {
		keep(c)
	}

	candidates := make([]document.Candidate, 0, len(merged))
	for _, c := range merged {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	candidates = r.reranker.Rerank(ctx, query, candidates)
	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}

	return &Result{Candidates: candidates, QueryEmbedding: qv}, nil
}

// keywordSearch matches document titles by trigram similarity and pulls up
// to two chunks per matched document, scored by the title similarity.
func (r *Retriever) keywordSearch(ctx context.Context, query string, k int) ([]document.Candidate, error) {
	titles, err := r.primary.TrigramTitleSearch(ctx, query, k)
	if err != nil {
		return nil, err
	}

	var out []document.Candidate
	for _, title := range titles {
		chunks, err := r.primary.ChunksByDocument(ctx, title.DocumentID, ChunksPerTitleMatch)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			out = append(out, document.Candidate{
				ChunkID:    ch.ID,
				DocumentID: ch.DocumentID,
				ChunkIndex: ch.Index,
				Content:    ch.Content,
				Source:     title.Source,
				Score:      r.wKey * title.Similarity,
			})
		}
	}
	return out, nil
}
