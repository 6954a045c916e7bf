// Package reconcile periodically compares primary chunk and secondary point
// counts and reports the drift. It never mutates either store.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
	"github.com/sweetpotato0/ragline/store"
)

// DefaultInterval is how often the reconciler runs.
const DefaultInterval = time.Hour

// Report is one reconciliation pass.
type Report struct {
	PrimaryChunks   int64     `json:"primaryChunks"`
	SecondaryPoints int64     `json:"secondaryPoints"`
	Drift           int64     `json:"drift"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// Reconciler counts both stores on a schedule and publishes the absolute
// difference to a gauge. Drift repair is an operator action.
type Reconciler struct {
	primary   store.Primary
	secondary store.Secondary
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a reconciler. interval <= 0 uses DefaultInterval.
func New(primary store.Primary, secondary store.Secondary, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		primary:   primary,
		secondary: secondary,
		interval:  interval,
		logger:    logging.WithComponent("reconcile"),
	}
}

// Run blocks, reconciling once per interval until ctx is cancelled. The
// first pass runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if _, err := r.Reconcile(ctx); err != nil {
		r.logger.Error("reconciliation failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile performs a single read-only pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	primaryCount, err := r.primary.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	secondaryCount, err := r.secondary.CountPoints(ctx)
	if err != nil {
		return nil, err
	}

	drift := primaryCount - secondaryCount
	if drift < 0 {
		drift = -drift
	}
	telemetry.M().RecordDrift(ctx, drift)

	report := &Report{
		PrimaryChunks:   primaryCount,
		SecondaryPoints: secondaryCount,
		Drift:           drift,
		CheckedAt:       time.Now(),
	}
	if drift != 0 {
		r.logger.Warn("store drift detected",
			"primary_chunks", primaryCount,
			"secondary_points", secondaryCount,
			"drift", drift)
	} else {
		r.logger.Debug("stores in sync", "chunks", primaryCount)
	}
	return report, nil
}
