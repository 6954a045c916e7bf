package store

import (
	"context"

	"github.com/sweetpotato0/ragline/document"
)

// VectorHit is one primary-store search result. Similarity is 1 - cosine
// distance and lies in [0,1].
type VectorHit struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Source     string
	Similarity float32
}

// TitleHit is one trigram title match.
type TitleHit struct {
	DocumentID string
	Title      string
	Source     string
	Similarity float32
}

// Primary is the relational store holding documents, chunks and their
// embeddings, with cosine search and a trigram title side-channel.
type Primary interface {
	// InsertDocument creates a document row and returns it with a fresh ID.
	InsertDocument(ctx context.Context, title, source string) (document.Document, error)

	// DeleteDocument removes the document and cascades to its chunks.
	// Deleting a missing document is a no-op.
	DeleteDocument(ctx context.Context, id string) error

	// InsertChunk stores one chunk with its embedding and returns the chunk ID.
	InsertChunk(ctx context.Context, chunk document.Chunk) (string, error)

	// DeleteChunk removes a single chunk by ID. Missing chunks are a no-op.
	DeleteChunk(ctx context.Context, chunkID string) error

	// ChunksByDocument returns up to limit chunks in ascending chunk index
	// order; limit <= 0 means all.
	ChunksByDocument(ctx context.Context, documentID string, limit int) ([]document.Chunk, error)

	// VectorSearch returns up to k hits ordered by ascending cosine distance.
	VectorSearch(ctx context.Context, queryVector []float32, k int) ([]VectorHit, error)

	// TrigramTitleSearch returns up to k documents whose title trigram-matches
	// the text, ordered by descending similarity.
	TrigramTitleSearch(ctx context.Context, text string, k int) ([]TitleHit, error)

	// CountChunks reports the total number of stored chunks.
	CountChunks(ctx context.Context) (int64, error)
}

// Point is the secondary-store record correlated with a primary chunk by ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload PointPayload
}

// PointPayload mirrors the primary chunk columns on the secondary store.
type PointPayload struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Source     string `json:"source,omitempty"`
}

// PointHit is one secondary-store search result; Score is already a
// similarity in [0,1].
type PointHit struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Source     string
	Score      float32
}

// Secondary is the mirrored purpose-built vector store.
type Secondary interface {
	UpsertPoint(ctx context.Context, point Point) error
	DeletePoint(ctx context.Context, id string) error
	Search(ctx context.Context, queryVector []float32, k int) ([]PointHit, error)
	CountPoints(ctx context.Context) (int64, error)
}

// DisabledSecondary satisfies Secondary when dual-store mode is off: reads
// return empty without error and writes are no-ops.
type DisabledSecondary struct{}

func (DisabledSecondary) UpsertPoint(context.Context, Point) error { return nil }
func (DisabledSecondary) DeletePoint(context.Context, string) error {
	return nil
}
func (DisabledSecondary) Search(context.Context, []float32, int) ([]PointHit, error) {
	return nil, nil
}
func (DisabledSecondary) CountPoints(context.Context) (int64, error) { return 0, nil }
