// Package pg implements ratelimit.Limiter on PostgreSQL. Suitable when the
// deployment already runs Postgres and no Redis is available.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/ragline/ratelimit"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	ip TEXT PRIMARY KEY,
	tokens DOUBLE PRECISION NOT NULL,
	last_refill TIMESTAMPTZ NOT NULL
);
`

// Limiter is a Postgres-backed token bucket keyed by client address.
type Limiter struct {
	db       *sql.DB
	capacity float64
	rate     float64
}

// New wraps a connection pool and ensures the bucket table exists.
// Non-positive capacity or rate use the package defaults.
func New(ctx context.Context, db *sql.DB, capacity, rate float64) (*Limiter, error) {
	if capacity <= 0 {
		capacity = ratelimit.DefaultCapacity
	}
	if rate <= 0 {
		rate = ratelimit.DefaultRefillRate
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create rate limit table: %w", err)
	}
	return &Limiter{db: db, capacity: capacity, rate: rate}, nil
}

// Allow implements ratelimit.Limiter with a serialized read-refill-spend
// transaction per key.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin ratelimit tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var tokens float64
	var lastRefill time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT tokens, last_refill FROM rate_limit_buckets WHERE ip = $1 FOR UPDATE`,
		key).Scan(&tokens, &lastRefill)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		tokens = l.capacity
		lastRefill = now
	case err != nil:
		return false, 0, fmt.Errorf("read bucket: %w", err)
	default:
		tokens = float64(ratelimit.Refill(tokens, now.Sub(lastRefill), l.capacity, l.rate))
	}

	allowed := tokens >= 1
	if allowed {
		tokens--
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_limit_buckets (ip, tokens, last_refill) VALUES ($1, $2, $3)
		 ON CONFLICT (ip) DO UPDATE SET tokens = $2, last_refill = $3`,
		key, tokens, now)
	if err != nil {
		return false, 0, fmt.Errorf("write bucket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit ratelimit tx: %w", err)
	}
	return allowed, int(tokens), nil
}
