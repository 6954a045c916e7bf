package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/ragline/chunking"
	"github.com/sweetpotato0/ragline/contrib/embedder/mock"
	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/store"
)

type memPrimary struct {
	mu        sync.Mutex
	documents map[string]document.Document
	chunks    map[string]document.Chunk
	insertErr error
}

func newMemPrimary() *memPrimary {
	return &memPrimary{
		documents: make(map[string]document.Document),
		chunks:    make(map[string]document.Chunk),
	}
}

func (m *memPrimary) InsertDocument(ctx context.Context, title, source string) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := document.Document{ID: document.NewID(), Title: title, Source: source}
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *memPrimary) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	for cid, c := range m.chunks {
		if c.DocumentID == id {
			delete(m.chunks, cid)
		}
	}
	return nil
}

func (m *memPrimary) InsertChunk(ctx context.Context, chunk document.Chunk) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", m.insertErr
	}
	m.chunks[chunk.ID] = chunk
	return chunk.ID, nil
}

func (m *memPrimary) DeleteChunk(ctx context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, chunkID)
	return nil
}

func (m *memPrimary) ChunksByDocument(ctx context.Context, documentID string, limit int) ([]document.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Chunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPrimary) VectorSearch(ctx context.Context, qv []float32, k int) ([]store.VectorHit, error) {
	return nil, nil
}

func (m *memPrimary) TrigramTitleSearch(ctx context.Context, text string, k int) ([]store.TitleHit, error) {
	return nil, nil
}

func (m *memPrimary) CountChunks(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.chunks)), nil
}

type memSecondary struct {
	mu        sync.Mutex
	points    map[string]store.Point
	failAfter int // fail every upsert once this many points exist; -1 never
	deleteErr error
}

func newMemSecondary() *memSecondary {
	return &memSecondary{points: make(map[string]store.Point), failAfter: -1}
}

func (m *memSecondary) UpsertPoint(ctx context.Context, p store.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter >= 0 && len(m.points) >= m.failAfter {
		return errors.New("secondary unavailable")
	}
	m.points[p.ID] = p
	return nil
}

func (m *memSecondary) DeletePoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.points, id)
	return nil
}

func (m *memSecondary) Search(ctx context.Context, qv []float32, k int) ([]store.PointHit, error) {
	return nil, nil
}

func (m *memSecondary) CountPoints(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.points)), nil
}

func newIngester(p *memPrimary, s *memSecondary, dual bool) *Ingester {
	return New(p, s, mock.New(16), chunking.New(chunking.WithChunkSize(50), chunking.WithOverlap(10)), dual)
}

func TestIngestDualStoreSuccess(t *testing.T) {
	primary := newMemPrimary()
	secondary := newMemSecondary()
	in := newIngester(primary, secondary, true)

	content := strings.Repeat("hybrid retrieval with dual stores. ", 10)
	res, err := in.Ingest(context.Background(), content, "guide", "docs")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if res.ChunksInserted < 2 {
		t.Fatalf("expected multiple chunks, got %d", res.ChunksInserted)
	}
	if len(primary.chunks) != res.ChunksInserted {
		t.Fatalf("primary holds %d chunks, want %d", len(primary.chunks), res.ChunksInserted)
	}
	if len(secondary.points) != res.ChunksInserted {
		t.Fatalf("secondary holds %d points, want %d", len(secondary.points), res.ChunksInserted)
	}
	for chunkID := range primary.chunks {
		if _, ok := secondary.points[chunkID]; !ok {
			t.Fatalf("chunk %s missing from secondary", chunkID)
		}
	}
}

func TestIngestRollsBackOnSecondaryFailure(t *testing.T) {
	primary := newMemPrimary()
	secondary := newMemSecondary()
	secondary.failAfter = 2
	in := newIngester(primary, secondary, true)

	content := strings.Repeat("this text spans more than two windows easily. ", 10)
	_, err := in.Ingest(context.Background(), content, "guide", "docs")
	if err == nil {
		t.Fatal("expected ingest to fail")
	}
	if !strings.Contains(err.Error(), "chunk 2") {
		t.Fatalf("error should name the failing chunk: %v", err)
	}
	if len(primary.documents) != 0 || len(primary.chunks) != 0 {
		t.Fatalf("primary not rolled back: %d docs, %d chunks",
			len(primary.documents), len(primary.chunks))
	}
	if len(secondary.points) != 0 {
		t.Fatalf("secondary not rolled back: %d points", len(secondary.points))
	}
}

func TestIngestSingleStoreSkipsSecondary(t *testing.T) {
	primary := newMemPrimary()
	secondary := newMemSecondary()
	secondary.failAfter = 0 // would fail immediately if called
	in := newIngester(primary, secondary, false)

	if _, err := in.Ingest(context.Background(), strings.Repeat("text ", 30), "t", "s"); err != nil {
		t.Fatalf("single-store ingest should not touch secondary: %v", err)
	}
}

func TestIngestEmptyContent(t *testing.T) {
	in := newIngester(newMemPrimary(), newMemSecondary(), true)
	if _, err := in.Ingest(context.Background(), "   ", "t", "s"); err == nil {
		t.Fatal("expected error on empty content")
	}
}

func TestIngestDeterministic(t *testing.T) {
	content := strings.Repeat("deterministic chunking input. ", 8)
	p1, p2 := newMemPrimary(), newMemPrimary()
	in1 := newIngester(p1, newMemSecondary(), false)
	in2 := newIngester(p2, newMemSecondary(), false)

	r1, err := in1.Ingest(context.Background(), content, "t", "s")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	r2, err := in2.Ingest(context.Background(), content, "t", "s")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if r1.ChunksInserted != r2.ChunksInserted {
		t.Fatalf("chunk counts differ: %d vs %d", r1.ChunksInserted, r2.ChunksInserted)
	}
}

func TestDeleteDualStore(t *testing.T) {
	primary := newMemPrimary()
	secondary := newMemSecondary()
	in := newIngester(primary, secondary, true)

	res, err := in.Ingest(context.Background(), strings.Repeat("content ", 30), "t", "s")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}

	outcome := in.Delete(context.Background(), res.DocumentID)
	if !outcome.Complete() {
		t.Fatalf("expected clean delete, got %+v", outcome)
	}
	if len(primary.chunks) != 0 || len(secondary.points) != 0 {
		t.Fatalf("stores not emptied: %d chunks, %d points",
			len(primary.chunks), len(secondary.points))
	}
}

func TestDeletePartialFailure(t *testing.T) {
	primary := newMemPrimary()
	secondary := newMemSecondary()
	in := newIngester(primary, secondary, true)

	res, err := in.Ingest(context.Background(), strings.Repeat("content ", 30), "t", "s")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}

	secondary.deleteErr = errors.New("secondary down")
	outcome := in.Delete(context.Background(), res.DocumentID)
	if !outcome.Primary {
		t.Fatal("primary delete should succeed")
	}
	if outcome.Secondary {
		t.Fatal("secondary delete should be reported failed")
	}
	if outcome.Complete() {
		t.Fatal("partial failure must not be complete")
	}
}

func TestDeleteMissingDocumentSucceeds(t *testing.T) {
	in := newIngester(newMemPrimary(), newMemSecondary(), true)
	if outcome := in.Delete(context.Background(), "no-such-doc"); !outcome.Complete() {
		t.Fatalf("idempotent delete expected, got %+v", outcome)
	}
}
