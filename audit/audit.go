// Package audit persists query-rewrite records and user feedback.
// Persistence is fire-and-forget from the query path; failures are logged
// and never surface to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/pkg/logging"
)

// Store is an audit backend. Backends live under contrib/audit.
type Store interface {
	SaveRewrite(ctx context.Context, rec document.RewriteRecord) error
	SaveFeedback(ctx context.Context, fb document.Feedback) error
}

// SaveRewriteAsync persists a rewrite record on a background goroutine. A
// nil store is a no-op.
func SaveRewriteAsync(store Store, original, rewritten string) {
	if store == nil {
		return
	}
	rec := document.RewriteRecord{
		ID:        document.NewID(),
		Original:  original,
		Rewritten: rewritten,
		CreatedAt: time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SaveRewrite(ctx, rec); err != nil {
			logging.Logger().Warn("rewrite record not persisted",
				"component", "audit", "error", err)
		}
	}()
}

// InMemory keeps audit records in process memory. Useful for tests and
// single-node deployments without an audit database.
type InMemory struct {
	mu       sync.Mutex
	rewrites []document.RewriteRecord
	feedback []document.Feedback
}

// NewInMemory creates an empty in-memory audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) SaveRewrite(ctx context.Context, rec document.RewriteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewrites = append(s.rewrites, rec)
	return nil
}

func (s *InMemory) SaveFeedback(ctx context.Context, fb document.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

// Rewrites returns a copy of the stored rewrite records.
func (s *InMemory) Rewrites() []document.RewriteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]document.RewriteRecord, len(s.rewrites))
	copy(out, s.rewrites)
	return out
}

// Feedback returns a copy of the stored feedback entries.
func (s *InMemory) Feedback() []document.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]document.Feedback, len(s.feedback))
	copy(out, s.feedback)
	return out
}
