// Package pg implements audit.Store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/ragline/document"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_rewrites (
	id UUID PRIMARY KEY,
	original TEXT NOT NULL,
	rewritten TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS feedback (
	id UUID PRIMARY KEY,
	rating TEXT NOT NULL,
	comment TEXT,
	trace_id TEXT,
	question TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists audit records to PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection and ensures the audit tables exist. dsn is a
// lib/pq connection string.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool, creating tables on first use.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveRewrite(ctx context.Context, rec document.RewriteRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_rewrites (id, original, rewritten, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Original, rec.Rewritten, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save rewrite: %w", err)
	}
	return nil
}

func (s *Store) SaveFeedback(ctx context.Context, fb document.Feedback) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, rating, comment, trace_id, question, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.Rating, fb.Comment, fb.TraceID, fb.Question, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}
