// Package payout is the asynchronous payout rail: when approvals are
// deferred, the lifecycle service parks the job in WAITING_FOR_PAYMENT and
// enqueues a PayoutArgs job in the same transaction; this worker then performs
// the ledger release and completes the job. Replays are harmless because both
// the status CAS and the hold-resolution guard are idempotent.
package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/gigboard/backend/internal/jobs"
)

type PayoutArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (PayoutArgs) Kind() string { return "release_payout" }

// JobService is the contract the worker needs from the lifecycle service.
type JobService interface {
	CompletePayout(ctx context.Context, jobID uuid.UUID) error
}

type Worker struct {
	river.WorkerDefaults[PayoutArgs]
	jobs JobService
}

func NewWorker(jobs JobService) *Worker {
	return &Worker{jobs: jobs}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[PayoutArgs]) error {
	if err := w.jobs.CompletePayout(ctx, job.Args.JobID); err != nil {
		// A job cancelled after the payout was enqueued can never become
		// payable again; retrying would fail until max attempts. Cancel the
		// queue entry instead.
		if errors.Is(err, jobs.ErrInvalidTransition) {
			return river.JobCancel(fmt.Errorf("payout no longer applicable for job %s: %w", job.Args.JobID, err))
		}
		return fmt.Errorf("complete payout for job %s: %w", job.Args.JobID, err)
	}
	return nil
}
