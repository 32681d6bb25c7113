// Package reconcile is the drift detector: it cross-checks job statuses
// against the escrow ledger and reports any money that does not line up. It
// reads and reports only; correcting a finding is an operator decision.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Finding kinds.
const (
	KindCompletedUnreleased = "completed_without_release"
	KindCancelledOpenHold   = "cancelled_with_open_hold"
	KindUnbalancedEntries   = "entries_do_not_sum_to_zero"
	KindHoldWithoutJob      = "hold_without_job"
	KindOverdueUnswept      = "overdue_approval_not_swept"
)

// overdueGrace is how far past the approval deadline a job may sit before its
// absence from the auto-release sweep counts as drift rather than scheduling
// latency.
const overdueGrace = time.Hour

// Finding is one detected inconsistency between a job and the ledger.
type Finding struct {
	Kind   string    `json:"kind"`
	JobID  uuid.UUID `json:"job_id"`
	Detail string    `json:"detail"`
}

// Report is the output of one reconciliation run.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	JobsChecked int       `json:"jobs_checked"`
	Findings    []Finding `json:"findings"`
}

// Store provides the read-only queries the reconciler cross-checks.
type Store interface {
	CompletedWithoutRelease(ctx context.Context) ([]uuid.UUID, error)
	CancelledWithOpenHold(ctx context.Context) ([]uuid.UUID, error)
	UnbalancedResolvedHolds(ctx context.Context) ([]JobImbalance, error)
	HoldsWithoutJob(ctx context.Context) ([]uuid.UUID, error)
	OverdueUnswept(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	CountJobsWithHolds(ctx context.Context) (int, error)
}

// JobImbalance is a resolved hold whose ledger entries do not cancel out.
type JobImbalance struct {
	JobID    uuid.UUID
	SumCents int64
}

// Reconciler runs the cross-check on an interval and keeps the latest report
// available for the operator surface.
type Reconciler struct {
	store    Store
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	latest *Report
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(store Store, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, interval: interval, log: log}
}

// Start launches the periodic run loop. Call Stop to terminate it.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx)
}

func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Latest returns the most recent report, or nil before the first run.
func (r *Reconciler) Latest() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.log.Error("reconciliation run failed", "error", err)
			}
		}
	}
}

// Run executes one full cross-check and stores the report.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := &Report{GeneratedAt: time.Now().UTC(), Findings: []Finding{}}

	checked, err := r.store.CountJobsWithHolds(ctx)
	if err != nil {
		return nil, err
	}
	report.JobsChecked = checked

	completed, err := r.store.CompletedWithoutRelease(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range completed {
		report.Findings = append(report.Findings, Finding{
			Kind:   KindCompletedUnreleased,
			JobID:  id,
			Detail: "job is COMPLETED but its escrow hold was never released",
		})
	}

	cancelled, err := r.store.CancelledWithOpenHold(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range cancelled {
		report.Findings = append(report.Findings, Finding{
			Kind:   KindCancelledOpenHold,
			JobID:  id,
			Detail: "job is CANCELLED but its escrow hold is still open",
		})
	}

	unbalanced, err := r.store.UnbalancedResolvedHolds(ctx)
	if err != nil {
		return nil, err
	}
	for _, im := range unbalanced {
		report.Findings = append(report.Findings, Finding{
			Kind:   KindUnbalancedEntries,
			JobID:  im.JobID,
			Detail: fmt.Sprintf("ledger entries for a resolved hold sum to %d cents, want 0", im.SumCents),
		})
	}

	orphans, err := r.store.HoldsWithoutJob(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range orphans {
		report.Findings = append(report.Findings, Finding{
			Kind:   KindHoldWithoutJob,
			JobID:  id,
			Detail: "escrow hold references a job that does not exist",
		})
	}

	overdue, err := r.store.OverdueUnswept(ctx, report.GeneratedAt.Add(-overdueGrace))
	if err != nil {
		return nil, err
	}
	for _, id := range overdue {
		report.Findings = append(report.Findings, Finding{
			Kind:   KindOverdueUnswept,
			JobID:  id,
			Detail: "job is long past its approval deadline and the auto-release sweep has not picked it up",
		})
	}

	if len(report.Findings) > 0 {
		r.log.Warn("reconciliation found drift", "findings", len(report.Findings))
	} else {
		r.log.Info("reconciliation clean", "jobs_checked", checked)
	}

	r.mu.Lock()
	r.latest = report
	r.mu.Unlock()
	return report, nil
}
