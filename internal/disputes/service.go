// Package disputes turns arbiter decisions into ledger settlements. A dispute
// freezes the escrow hold; resolving it moves the job out of DISPUTE and posts
// exactly one settlement, guarded by a conditional write on resolved_at.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigboard/backend/internal/commission"
	"github.com/gigboard/backend/internal/ledger"
	"github.com/gigboard/backend/internal/models"
	"github.com/gigboard/backend/internal/notify"
)

var (
	// ErrNotFound is returned when no dispute exists for the job.
	ErrNotFound = errors.New("dispute not found")
	// ErrConflictingDecision is returned when a resolved dispute is resolved
	// again with a different decision.
	ErrConflictingDecision = errors.New("dispute already resolved with a different decision")
	// ErrBadSplit is returned for a split decision without a valid percentage.
	ErrBadSplit = errors.New("split requires a percentage between 0 and 100")
	// ErrBadDecision is returned for a decision outside the known set.
	ErrBadDecision = errors.New("decision must be favor_provider, favor_employer or split")
)

// Store persists dispute records.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
	GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	ResolveIf(ctx context.Context, tx pgx.Tx, disputeID uuid.UUID, res models.Resolution, splitPercent *int, resolvedBy uuid.UUID, at time.Time) (bool, error)
}

// JobStore is the slice of the job store the resolver needs.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	TransitionIf(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from, to models.Status) (bool, error)
	CompletedCountByProvider(ctx context.Context, providerID uuid.UUID) (int, error)
}

// EnqueueEventTxFunc matches the jobs package outbox closure.
type EnqueueEventTxFunc func(ctx context.Context, tx pgx.Tx, args notify.EventArgs) error

type Service interface {
	GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, jobID, arbiterID uuid.UUID, decision models.Resolution, splitPercent *int) (*models.Dispute, error)
}

type service struct {
	store        Store
	jobStore     JobStore
	ledger       ledger.Service
	enqueueEvent EnqueueEventTxFunc
}

func NewService(store Store, jobStore JobStore, ledgerSvc ledger.Service, enqueueEvent EnqueueEventTxFunc) Service {
	return &service{store: store, jobStore: jobStore, ledger: ledgerSvc, enqueueEvent: enqueueEvent}
}

var _ Service = (*service)(nil)

func (s *service) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	return s.store.GetByJob(ctx, jobID)
}

// Resolve applies the arbiter decision. favor_provider releases the hold as a
// normal approval would; favor_employer refunds it in full, with no
// cancellation fee; split releases the provider's share (commission charged on
// that share only) and refunds the remainder. Replaying the same decision on a
// resolved dispute is a no-op returning the recorded outcome.
func (s *service) Resolve(ctx context.Context, jobID, arbiterID uuid.UUID, decision models.Resolution, splitPercent *int) (*models.Dispute, error) {
	d, err := s.store.GetByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if d.ResolvedAt != nil {
		return s.replay(d, decision, splitPercent)
	}

	var pct int
	switch decision {
	case models.ResolutionFavorProvider, models.ResolutionFavorEmployer:
	case models.ResolutionSplit:
		if splitPercent == nil || *splitPercent < 0 || *splitPercent > 100 {
			return nil, ErrBadSplit
		}
		pct = *splitPercent
	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadDecision, decision)
	}

	job, err := s.jobStore.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AcceptedBy == nil {
		return nil, fmt.Errorf("disputed job %s has no provider", jobID)
	}
	provider := *job.AcceptedBy

	feeBps := int64(0)
	if decision != models.ResolutionFavorEmployer {
		completed, err := s.jobStore.CompletedCountByProvider(ctx, provider)
		if err != nil {
			return nil, err
		}
		feeBps = commission.FeeBps(completed)
	}

	target := models.StatusCompleted
	if decision == models.ResolutionFavorEmployer {
		target = models.StatusCancelled
	}

	now := time.Now().UTC()
	tx, err := s.jobStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.ResolveIf(ctx, tx, d.ID, decision, splitPercent, arbiterID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another arbiter call won; report their outcome.
		cur, err := s.store.GetByJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return s.replay(cur, decision, splitPercent)
	}

	ok, err = s.jobStore.TransitionIf(ctx, tx, jobID, models.StatusDispute, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("disputed job %s left DISPUTE without a resolution", jobID)
	}

	switch decision {
	case models.ResolutionFavorProvider:
		_, err = s.ledger.Release(ctx, tx, jobID, provider, feeBps)
	case models.ResolutionFavorEmployer:
		_, err = s.ledger.Refund(ctx, tx, jobID, 0)
	case models.ResolutionSplit:
		_, err = s.ledger.Split(ctx, tx, jobID, provider, pct, feeBps)
	}
	if err != nil {
		return nil, err
	}

	if s.enqueueEvent != nil {
		err = s.enqueueEvent(ctx, tx, notify.EventArgs{
			Event:   notify.EventDisputeResolved,
			JobID:   jobID,
			ActorID: arbiterID,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByJob(ctx, jobID)
}

// replay checks an already-resolved dispute against the requested decision.
func (s *service) replay(d *models.Dispute, decision models.Resolution, splitPercent *int) (*models.Dispute, error) {
	if d.Resolution == nil || *d.Resolution != decision {
		return nil, ErrConflictingDecision
	}
	if decision == models.ResolutionSplit {
		if splitPercent == nil || d.SplitPercent == nil || *splitPercent != *d.SplitPercent {
			return nil, ErrConflictingDecision
		}
	}
	return d, nil
}
