// Package jobs contains the scheduled jobs of the tuition ledger.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH STATUS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StatusRefresher recomputes stored status labels.
type StatusRefresher interface {
	Handle(ctx context.Context, cmd command.RefreshStatusesCommand) (*command.RefreshStatusesResult, error)
}

// RefreshStatusJob keeps each student's stored status label in line with
// the current date, so Partial and Unpaid balances turn Overdue without a
// payment touching them. Paid, total fee and cycle are never modified.
type RefreshStatusJob struct {
	refresher StatusRefresher
	log       *logger.Logger
	config    RefreshStatusConfig

	lastStats atomic.Pointer[RefreshStats]
}

// RefreshStatusConfig contains configuration for the job.
type RefreshStatusConfig struct {
	// Timeout is the maximum duration of one run.
	Timeout time.Duration

	// MaxFailures fails the run when more students than this could not be
	// refreshed. Zero means any failure is only logged.
	MaxFailures int
}

// DefaultRefreshStatusConfig returns sensible defaults.
func DefaultRefreshStatusConfig() RefreshStatusConfig {
	return RefreshStatusConfig{Timeout: 5 * time.Minute}
}

// RefreshStats contains statistics from a run.
type RefreshStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Scanned     int
	Changed     int
	Failed      int
	ByStatus    map[string]int
}

// NewRefreshStatusJob creates the job.
func NewRefreshStatusJob(refresher StatusRefresher, log *logger.Logger, config RefreshStatusConfig) *RefreshStatusJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshStatusJob{
		refresher: refresher,
		log:       log.With(logger.Component("job.refresh_status")),
		config:    config,
	}
}

// Name returns the job name.
func (j *RefreshStatusJob) Name() string { return "refresh_status" }

// Description returns the job description.
func (j *RefreshStatusJob) Description() string {
	return "Recomputes stored payment status labels as installments age"
}

// Run executes one refresh pass over all students.
func (j *RefreshStatusJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	stats := &RefreshStats{StartedAt: time.Now(), ByStatus: make(map[string]int)}

	res, err := j.refresher.Handle(ctx, command.RefreshStatusesCommand{})
	if err != nil {
		return fmt.Errorf("refresh status: %w", err)
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	stats.Scanned = res.Scanned
	stats.Changed = len(res.Changed)
	stats.Failed = res.Failed
	for _, c := range res.Changed {
		stats.ByStatus[string(c.New)]++
	}
	j.lastStats.Store(stats)

	j.log.Info("status refresh finished",
		logger.Count("scanned", stats.Scanned),
		logger.Count("changed", stats.Changed),
		logger.Count("failed", stats.Failed),
		logger.Latency(stats.Duration),
	)

	if j.config.MaxFailures > 0 && stats.Failed > j.config.MaxFailures {
		return fmt.Errorf("refresh status: %d students failed (limit %d)", stats.Failed, j.config.MaxFailures)
	}
	return nil
}

// LastStats returns statistics of the last completed run, or nil.
func (j *RefreshStatusJob) LastStats() *RefreshStats {
	return j.lastStats.Load()
}
