// Package scheduler runs the auto-release sweep: jobs whose approval deadline
// has passed without an employer decision are approved on their behalf. The
// sweep reads stored deadlines rather than arming timers, so pending releases
// survive restarts.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gigboard/backend/internal/jobs"
	"github.com/gigboard/backend/internal/models"
)

const sweepBatchSize = 100

// DueLister returns jobs waiting for approval past their deadline with no
// open dispute.
type DueLister interface {
	ListDueForAutoApproval(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Approver drives the approve transition. The scheduler calls it as the
// system actor so the usual requester check passes.
type Approver interface {
	Approve(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error)
}

// AutoRelease periodically approves overdue jobs.
type AutoRelease struct {
	lister   DueLister
	approver Approver
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	lastScan time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewAutoRelease(lister DueLister, approver Approver, interval time.Duration, log *slog.Logger) *AutoRelease {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &AutoRelease{lister: lister, approver: approver, interval: interval, log: log}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (a *AutoRelease) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(ctx)
}

// Stop terminates the sweep loop and waits for the in-flight sweep to finish.
func (a *AutoRelease) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// LastScan reports when the previous sweep completed; zero before the first.
func (a *AutoRelease) LastScan() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastScan
}

func (a *AutoRelease) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep approves every overdue job once. Per-job failures are logged and
// skipped; the job stays due and the next sweep retries it.
func (a *AutoRelease) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	due, err := a.lister.ListDueForAutoApproval(ctx, now, sweepBatchSize)
	if err != nil {
		a.log.Error("auto-release sweep query failed", "error", err)
		return
	}
	for _, jobID := range due {
		if ctx.Err() != nil {
			return
		}
		_, err := a.approver.Approve(ctx, jobID, models.SystemActorID)
		switch {
		case err == nil:
			a.log.Info("auto-approved overdue job", "job_id", jobID)
		case errors.Is(err, jobs.ErrDisputeOpen), errors.Is(err, jobs.ErrInvalidTransition):
			// A dispute or an employer action landed between the query and
			// the approve; the CAS made the sweep lose cleanly.
			a.log.Info("auto-release skipped job", "job_id", jobID, "reason", err)
		default:
			a.log.Error("auto-release approve failed", "job_id", jobID, "error", err)
		}
	}
	a.mu.Lock()
	a.lastScan = now
	a.mu.Unlock()
}
