package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/ragline/config"
	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/errors"
	"github.com/sweetpotato0/ragline/store"
)

// Store implements store.Primary on PostgreSQL with the pgvector and pg_trgm
// extensions.
type Store struct {
	db        *sql.DB
	dimension int
}

// Config holds PostgreSQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int
}

// ConfigFromEnv loads PostgreSQL configuration from environment variables.
func ConfigFromEnv(dimension int) *Config {
	cfg := &Config{
		Host:      "localhost",
		Port:      5432,
		User:      "postgres",
		Password:  "",
		DBName:    "ragline",
		SSLMode:   "disable",
		Dimension: dimension,
	}
	// Same POSTGRES_* keys the rest of the stack uses.
	if v := getenv("POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("POSTGRES_USER"); v != "" {
		cfg.User = v
	}
	if v := getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getenv("POSTGRES_DB"); v != "" {
		cfg.DBName = v
	}
	if v := getenv("POSTGRES_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if p := getenvInt("POSTGRES_PORT"); p != 0 {
		cfg.Port = p
	}
	return cfg
}

// New connects and prepares the schema.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pg: config is required")
	}
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("pg: embedding dimension must be positive, got %d", cfg.Dimension)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &Store{db: db, dimension: cfg.Dimension}
	if err := s.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}
	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE EXTENSION IF NOT EXISTS pg_trgm",
		`CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(64) PRIMARY KEY,
			title TEXT,
			source TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id VARCHAR(64) PRIMARY KEY,
			document_id VARCHAR(64) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			grade TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (document_id, chunk_index)
		)`, s.dimension),
		"CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS documents_title_trgm_idx ON documents USING gin (title gin_trgm_ops)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstWords(stmt, 4), err)
		}
	}
	return nil
}

// InsertDocument creates a document row and returns it with a fresh ID.
func (s *Store) InsertDocument(ctx context.Context, title, source string) (document.Document, error) {
	doc := document.Document{
		ID:        document.NewID(),
		Title:     title,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, source, created_at) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)`,
		doc.ID, doc.Title, doc.Source, doc.CreatedAt)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to insert document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes the document; chunks cascade. Missing IDs are a no-op.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// InsertChunk stores one chunk and returns its ID. Embeddings that do not
// match the configured dimension are rejected.
func (s *Store) InsertChunk(ctx context.Context, chunk document.Chunk) (string, error) {
	if len(chunk.Embedding) != s.dimension {
		return "", fmt.Errorf("chunk %d of document %s: expected %d dims, got %d: %w",
			chunk.Index, chunk.DocumentID, s.dimension, len(chunk.Embedding), errors.ErrDimensionMismatch)
	}
	id := chunk.ID
	if id == "" {
		id = document.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, content, embedding) VALUES ($1, $2, $3, $4, $5::vector)`,
		id, chunk.DocumentID, chunk.Index, chunk.Content, vectorToString(chunk.Embedding))
	if err != nil {
		return "", fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
	}
	return id, nil
}

// DeleteChunk removes one chunk; missing IDs are a no-op.
func (s *Store) DeleteChunk(ctx context.Context, chunkID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = $1`, chunkID); err != nil {
		return fmt.Errorf("failed to delete chunk %s: %w", chunkID, err)
	}
	return nil
}

// ChunksByDocument returns chunks in ascending index order.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string, limit int) ([]document.Chunk, error) {
	query := `SELECT id, document_id, chunk_index, content, COALESCE(grade, ''), created_at
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []document.Chunk
	for rows.Next() {
		var c document.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.Grade, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// VectorSearch returns up to k hits ordered by ascending cosine distance;
// Similarity is 1 - distance.
func (s *Store) VectorSearch(ctx context.Context, queryVector []float32, k int) ([]store.VectorHit, error) {
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector: expected %d dims, got %d: %w",
			s.dimension, len(queryVector), errors.ErrDimensionMismatch)
	}
	if k <= 0 {
		k = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, COALESCE(d.source, ''),
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY c.embedding <=> $1::vector
		LIMIT $2`, vectorToString(queryVector), k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]store.VectorHit, 0, k)
	for rows.Next() {
		var h store.VectorHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &h.Source, &h.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		if h.Similarity < 0 {
			h.Similarity = 0
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// TrigramTitleSearch returns up to k documents whose title trigram-matches
// text, ordered by descending similarity.
func (s *Store) TrigramTitleSearch(ctx context.Context, text string, k int) ([]store.TitleHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(title, ''), COALESCE(source, ''), similarity(title, $1) AS sim
		FROM documents
		WHERE title % $1
		ORDER BY sim DESC
		LIMIT $2`, text, k)
	if err != nil {
		return nil, fmt.Errorf("trigram title search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]store.TitleHit, 0, k)
	for rows.Next() {
		var h store.TitleHit
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.Source, &h.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan title hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountChunks reports the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Helper functions

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
