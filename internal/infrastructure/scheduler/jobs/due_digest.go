package jobs

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DUE DIGEST JOB
// ══════════════════════════════════════════════════════════════════════════════

// Summarizer produces the fee summary.
type Summarizer interface {
	Handle(ctx context.Context, q query.GetSummaryQuery) (*query.SummaryDTO, error)
}

// DueDigestJob writes a periodic fee summary to the log: how much is
// outstanding and how many students are in each status.
type DueDigestJob struct {
	summary Summarizer
	log     *logger.Logger

	last atomic.Pointer[query.SummaryDTO]
}

// NewDueDigestJob creates the job.
func NewDueDigestJob(summary Summarizer, log *logger.Logger) *DueDigestJob {
	if log == nil {
		log = logger.Nop()
	}
	return &DueDigestJob{summary: summary, log: log.With(logger.Component("job.due_digest"))}
}

// Name returns the job name.
func (j *DueDigestJob) Name() string { return "due_digest" }

// Description returns the job description.
func (j *DueDigestJob) Description() string {
	return "Logs outstanding and overdue fee totals"
}

// Run computes and logs the digest.
func (j *DueDigestJob) Run(ctx context.Context) error {
	sum, err := j.summary.Handle(ctx, query.GetSummaryQuery{})
	if err != nil {
		return fmt.Errorf("due digest: %w", err)
	}
	j.last.Store(sum)

	j.log.Info("due digest",
		logger.Count("students", sum.Students),
		logger.Due(sum.TotalDue),
		logger.Stringer("overdue", sum.TotalOverdue),
		logger.Count("paid", sum.CountsByStatus[ledger.StatusPaid]),
		logger.Count("partial", sum.CountsByStatus[ledger.StatusPartial]),
		logger.Count("unpaid", sum.CountsByStatus[ledger.StatusUnpaid]),
		logger.Count("overdue_students", sum.CountsByStatus[ledger.StatusOverdue]),
	)
	return nil
}

// Last returns the most recent digest, or nil before the first run.
func (j *DueDigestJob) Last() *query.SummaryDTO {
	return j.last.Load()
}
