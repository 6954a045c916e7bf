// Package inmemory implements store.Primary and store.Secondary in process
// memory. Used by tests and the runnable examples; search is brute-force
// cosine over all chunks and the title side-channel approximates trigram
// similarity.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/ragline/document"
	raglinerr "github.com/sweetpotato0/ragline/errors"
	"github.com/sweetpotato0/ragline/store"
	"github.com/sweetpotato0/ragline/vector"
)

// Primary is an in-memory store.Primary.
type Primary struct {
	dimension int

	mu        sync.RWMutex
	documents map[string]document.Document
	chunks    map[string]document.Chunk
}

// NewPrimary creates an empty primary store enforcing the given embedding
// dimension.
func NewPrimary(dimension int) *Primary {
	return &Primary{
		dimension: dimension,
		documents: make(map[string]document.Document),
		chunks:    make(map[string]document.Chunk),
	}
}

func (p *Primary) InsertDocument(ctx context.Context, title, source string) (document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := document.Document{
		ID:        document.NewID(),
		Title:     title,
		Source:    source,
		CreatedAt: time.Now(),
	}
	p.documents[doc.ID] = doc
	return doc, nil
}

func (p *Primary) DeleteDocument(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.documents, id)
	for chunkID, chunk := range p.chunks {
		if chunk.DocumentID == id {
			delete(p.chunks, chunkID)
		}
	}
	return nil
}

func (p *Primary) InsertChunk(ctx context.Context, chunk document.Chunk) (string, error) {
	if len(chunk.Embedding) != p.dimension {
		return "", raglinerr.ErrDimensionMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if chunk.ID == "" {
		chunk.ID = document.NewID()
	}
	chunk.CreatedAt = time.Now()
	p.chunks[chunk.ID] = chunk.Clone()
	return chunk.ID, nil
}

func (p *Primary) DeleteChunk(ctx context.Context, chunkID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.chunks, chunkID)
	return nil
}

func (p *Primary) ChunksByDocument(ctx context.Context, documentID string, limit int) ([]document.Chunk, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []document.Chunk
	for _, chunk := range p.chunks {
		if chunk.DocumentID == documentID {
			out = append(out, chunk.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Primary) VectorSearch(ctx context.Context, queryVector []float32, k int) ([]store.VectorHit, error) {
	if len(queryVector) == 0 {
		return nil, raglinerr.ErrInvalidInput
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	hits := make([]store.VectorHit, 0, len(p.chunks))
	for _, chunk := range p.chunks {
		if len(chunk.Embedding) != len(queryVector) {
			continue
		}
		doc := p.documents[chunk.DocumentID]
		hits = append(hits, store.VectorHit{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.Index,
			Content:    chunk.Content,
			Source:     doc.Source,
			Similarity: vector.CosineSimilarity(queryVector, chunk.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (p *Primary) TrigramTitleSearch(ctx context.Context, text string, k int) ([]store.TitleHit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	queryGrams := trigrams(text)
	if len(queryGrams) == 0 {
		return nil, nil
	}

	var hits []store.TitleHit
	for _, doc := range p.documents {
		sim := trigramSimilarity(queryGrams, trigrams(doc.Title))
		if sim <= 0 {
			continue
		}
		hits = append(hits, store.TitleHit{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Source:     doc.Source,
			Similarity: sim,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (p *Primary) CountChunks(ctx context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int64(len(p.chunks)), nil
}

// trigrams mirrors pg_trgm tokenization closely enough for tests: lowercase,
// split on non-alphanumerics, pad each word with two leading and one
// trailing space.
func trigrams(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			out[padded[i:i+3]] = struct{}{}
		}
	}
	return out
}

func trigramSimilarity(a, b map[string]struct{}) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// Secondary is an in-memory store.Secondary.
type Secondary struct {
	mu     sync.RWMutex
	points map[string]store.Point
}

// NewSecondary creates an empty secondary store.
func NewSecondary() *Secondary {
	return &Secondary{points: make(map[string]store.Point)}
}

func (s *Secondary) UpsertPoint(ctx context.Context, point store.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[point.ID] = point
	return nil
}

func (s *Secondary) DeletePoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, id)
	return nil
}

func (s *Secondary) Search(ctx context.Context, queryVector []float32, k int) ([]store.PointHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]store.PointHit, 0, len(s.points))
	for _, point := range s.points {
		if len(point.Vector) != len(queryVector) {
			continue
		}
		hits = append(hits, store.PointHit{
			ChunkID:    point.Payload.ChunkID,
			DocumentID: point.Payload.DocumentID,
			ChunkIndex: point.Payload.ChunkIndex,
			Content:    point.Payload.Content,
			Source:     point.Payload.Source,
			Score:      vector.CosineSimilarity(queryVector, point.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Secondary) CountPoints(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.points)), nil
}
