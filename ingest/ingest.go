// Package ingest writes documents into the primary and secondary stores with
// a compensating rollback when the dual write cannot complete.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sweetpotato0/ragline/chunking"
	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
	"github.com/sweetpotato0/ragline/preprocess"
	"github.com/sweetpotato0/ragline/store"
	"github.com/sweetpotato0/ragline/vector"
)

// Secondary-write retry schedule.
const (
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 2
	retryMaxInterval     = 5 * time.Second
	retryMaxAttempts     = 3
)

// Result reports a completed ingestion.
type Result struct {
	DocumentID     string `json:"documentId"`
	ChunksInserted int    `json:"chunksInserted"`
}

// Ingester runs the document write pipeline: preprocess, chunk, embed, then
// the two-phase dual-store write.
type Ingester struct {
	primary   store.Primary
	secondary store.Secondary
	embedder  vector.Embedder
	chunker   *chunking.Chunker
	dualStore bool
	logger    *slog.Logger
}

// New creates an ingester. secondary may be nil when dual-store mode is off.
func New(primary store.Primary, secondary store.Secondary, embedder vector.Embedder, chunker *chunking.Chunker, dualStore bool) *Ingester {
	if secondary == nil {
		secondary = store.DisabledSecondary{}
	}
	return &Ingester{
		primary:   primary,
		secondary: secondary,
		embedder:  embedder,
		chunker:   chunker,
		dualStore: dualStore,
		logger:    logging.WithComponent("ingest"),
	}
}

// Ingest cleans and chunks the content, embeds every chunk, and writes the
// document to both stores. On any secondary failure that survives the retry
// schedule, all writes for the document are rolled back and the error names
// the failing chunk. On success both stores hold exactly ChunksInserted
// records correlated by chunk ID.
func (in *Ingester) Ingest(ctx context.Context, content, title, source string) (*Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.ingest")
	var retErr error
	defer func() { telemetry.End(span, retErr) }()

	cleaned := preprocess.Preprocess(content)
	windows := in.chunker.Split(cleaned)
	if len(windows) == 0 {
		retErr = fmt.Errorf("ingest %q: no content after preprocessing", title)
		return nil, retErr
	}

	embeddings, err := in.embedder.EmbedBatch(ctx, windows)
	if err != nil {
		retErr = fmt.Errorf("embed %d chunks: %w", len(windows), err)
		return nil, retErr
	}

	doc, err := in.primary.InsertDocument(ctx, title, source)
	if err != nil {
		retErr = fmt.Errorf("insert document: %w", err)
		return nil, retErr
	}

	var insertedChunkIDs []string
	for i, window := range windows {
		chunk := document.Chunk{
			ID:         document.NewID(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    window,
			Embedding:  embeddings[i],
		}
		chunkID, err := in.primary.InsertChunk(ctx, chunk)
		if err != nil {
			in.rollback(ctx, doc.ID, insertedChunkIDs)
			retErr = fmt.Errorf("insert chunk %d of document %s: %w", i, doc.ID, err)
			return nil, retErr
		}

		if in.dualStore {
			if err := in.upsertSecondary(ctx, chunkID, doc.ID, i, window, source, embeddings[i]); err != nil {
				// Remove the chunk that just landed, then unwind the rest.
				if derr := in.primary.DeleteChunk(ctx, chunkID); derr != nil {
					in.logger.Error("failed to delete primary chunk during rollback",
						"chunk_id", chunkID, "error", derr)
				}
				in.rollback(ctx, doc.ID, insertedChunkIDs)
				retErr = fmt.Errorf("secondary write for chunk %d of document %s: %w", i, doc.ID, err)
				return nil, retErr
			}
		}
		insertedChunkIDs = append(insertedChunkIDs, chunkID)
	}

	in.logger.Info("document ingested",
		"document_id", doc.ID, "title", title, "chunks", len(insertedChunkIDs))
	return &Result{DocumentID: doc.ID, ChunksInserted: len(insertedChunkIDs)}, nil
}

// upsertSecondary retries the secondary write with exponential backoff
// before giving up.
func (in *Ingester) upsertSecondary(ctx context.Context, chunkID, documentID string, index int, content, source string, embedding []float32) error {
	point := store.Point{
		ID:     chunkID,
		Vector: embedding,
		Payload: store.PointPayload{
			ChunkID:    chunkID,
			DocumentID: documentID,
			ChunkIndex: index,
			Content:    content,
			Source:     source,
		},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = retryMultiplier
	b.MaxInterval = retryMaxInterval
	b.RandomizationFactor = 0

	return backoff.Retry(func() error {
		return in.secondary.UpsertPoint(ctx, point)
	}, backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts), ctx))
}

// rollback deletes the document (cascading its primary chunks) and every
// secondary point already written for it. Rollback failures are logged, not
// returned; the original write error is what callers see.
func (in *Ingester) rollback(ctx context.Context, documentID string, insertedChunkIDs []string) {
	if err := in.primary.DeleteDocument(ctx, documentID); err != nil {
		in.logger.Error("rollback: delete document failed",
			"document_id", documentID, "error", err)
	}
	for _, chunkID := range insertedChunkIDs {
		if err := in.secondary.DeletePoint(ctx, chunkID); err != nil {
			in.logger.Error("rollback: delete secondary point failed",
				"chunk_id", chunkID, "error", err)
		}
	}
	in.logger.Warn("ingestion rolled back",
		"document_id", documentID, "chunks_unwound", len(insertedChunkIDs))
}
