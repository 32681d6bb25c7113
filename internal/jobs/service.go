// Package jobs owns the job lifecycle state machine. Every transition is a
// conditional write against the store ("move only if the status still is what
// I read"), so two concurrent callers of the same transition produce exactly
// one winner; money-moving transitions compose the ledger operation into the
// same transaction as the status CAS so neither commits without the other.
package jobs

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
	// ErrNotFound is returned when the job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when the job is not in a status the
	// requested transition accepts.
	ErrInvalidTransition = errors.New("invalid transition for current job status")
	// ErrAlreadyAccepted is returned when another provider won the accept race.
	ErrAlreadyAccepted = errors.New("job already accepted by another provider")
	// ErrForbidden is returned when the actor may not perform the transition.
	ErrForbidden = errors.New("actor may not perform this transition")
	// ErrUnverifiedProvider gates accept on the identity-verification result.
	ErrUnverifiedProvider = errors.New("provider has not passed verification")
	// ErrDisputeOpen is returned when a transition is blocked by an open dispute.
	ErrDisputeOpen = errors.New("job has an open dispute")
)

// Store is the job persistence interface. The *If methods are conditional
// writes: they return false, nil when the expected prior status no longer
// holds, which the service treats as a lost race, never as success.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.Job, error)
	AcceptIfOpen(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID) (bool, error)
	TransitionIf(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from, to models.Status) (bool, error)
	MarkSubmitted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, submittedAt, deadline time.Time) (bool, error)
	MarkDisputed(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error)
	CompletedCountByProvider(ctx context.Context, providerID uuid.UUID) (int, error)
}

// AccountGetter resolves actors for role and verification checks.
type AccountGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// DisputeCreator inserts the dispute record inside the transition transaction.
type DisputeCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
}

// EnqueueEventTxFunc enqueues a notification event within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type EnqueueEventTxFunc func(ctx context.Context, tx pgx.Tx, args notify.EventArgs) error

// EnqueuePayoutTxFunc enqueues the asynchronous payout-rail job within the
// given transaction.
type EnqueuePayoutTxFunc func(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error

// Config carries the lifecycle policy knobs.
type Config struct {
	// ApprovalTimeout is added to submitted_at to derive approval_deadline.
	ApprovalTimeout time.Duration
	// CancelFeeBps is forfeited to the platform when a job is cancelled after
	// work has started. Cancels while still ACCEPTED refund in full.
	CancelFeeBps int64
	// AsyncPayout routes approvals through WAITING_FOR_PAYMENT and the payout
	// rail worker instead of releasing inline.
	AsyncPayout bool
}

type Service interface {
	Create(ctx context.Context, employerID uuid.UUID, title, description string, priceCents int64) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.Job, error)
	Accept(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error)
	Start(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error)
	Submit(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error)
	Approve(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error)
	OpenDispute(ctx context.Context, jobID, actorID uuid.UUID, reason string) (*models.Job, error)
	CompletePayout(ctx context.Context, jobID uuid.UUID) error
	PaymentStatus(ctx context.Context, jobID uuid.UUID) (*ledger.PaymentStatus, error)
}

type service struct {
	store         Store
	ledger        ledger.Service
	accounts      AccountGetter
	disputes      DisputeCreator
	enqueueEvent  EnqueueEventTxFunc
	enqueuePayout EnqueuePayoutTxFunc
	cfg           Config
}

// NewService creates the lifecycle service. enqueueEvent and enqueuePayout are
// typically closures over river.Client.InsertTx; either may be nil, in which
// case the corresponding enqueue is skipped.
func NewService(store Store, ledgerSvc ledger.Service, accounts AccountGetter, disputes DisputeCreator, enqueueEvent EnqueueEventTxFunc, enqueuePayout EnqueuePayoutTxFunc, cfg Config) Service {
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 48 * time.Hour
	}
	return &service{
		store:         store,
		ledger:        ledgerSvc,
		accounts:      accounts,
		disputes:      disputes,
		enqueueEvent:  enqueueEvent,
		enqueuePayout: enqueuePayout,
		cfg:           cfg,
	}
}

var _ Service = (*service)(nil)

func (s *service) Create(ctx context.Context, employerID uuid.UUID, title, description string, priceCents int64) (*models.Job, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("price must be positive, got %d", priceCents)
	}
	j := &models.Job{
		ID:          uuid.New(),
		CreatedBy:   employerID,
		Title:       title,
		Description: description,
		PriceCents:  priceCents,
		Status:      models.StatusOpen,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetByID(ctx, jobID)
}

func (s *service) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListByEmployer(ctx, employerID)
}

// Accept assigns the job to the provider and places the escrow hold on the
// employer's funds, both in one transaction. The conditional accept write is
// the single point of contention: of two racing providers exactly one sees
// rows=1 and the other gets ErrAlreadyAccepted.
func (s *service) Accept(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error) {
	provider, err := s.accounts.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if provider.Role != models.RoleProvider {
		return nil, fmt.Errorf("%w: only providers accept jobs", ErrForbidden)
	}
	if !provider.IsVerified {
		return nil, ErrUnverifiedProvider
	}

	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AcceptedBy != nil && *job.AcceptedBy == providerID && job.Status == models.StatusAccepted {
		return job, nil // idempotent replay
	}
	if job.Status != models.StatusOpen {
		if job.AcceptedBy != nil {
			return nil, ErrAlreadyAccepted
		}
		return nil, ErrInvalidTransition
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.AcceptIfOpen(ctx, tx, jobID, providerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race; report who won if it was us (replay) or the error.
		cur, err := s.store.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if cur.AcceptedBy != nil && *cur.AcceptedBy == providerID {
			return cur, nil
		}
		return nil, ErrAlreadyAccepted
	}

	if err := s.ledger.Hold(ctx, tx, jobID, job.CreatedBy, job.PriceCents); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, notify.EventJobAccepted, job, providerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

func (s *service) Start(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error) {
	job, err := s.requireProvider(ctx, jobID, providerID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.StatusInProgress {
		return job, nil
	}
	if job.Status != models.StatusAccepted {
		return nil, ErrInvalidTransition
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	ok, err := s.store.TransitionIf(ctx, tx, jobID, models.StatusAccepted, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, jobID, models.StatusInProgress)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

// Submit records the work delivery, stamping submitted_at and deriving the
// approval deadline. The deadline is stored data, not a live timer: the
// auto-release scheduler evaluates it lazily so it survives restarts.
func (s *service) Submit(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error) {
	job, err := s.requireProvider(ctx, jobID, providerID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.StatusWaitingForApproval {
		return job, nil
	}
	if job.Status != models.StatusInProgress {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	deadline := now.Add(s.cfg.ApprovalTimeout)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	ok, err := s.store.MarkSubmitted(ctx, tx, jobID, now, deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, jobID, models.StatusWaitingForApproval)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

// Approve releases the escrow to the provider. Callable by the employer or by
// the auto-release scheduler acting as SYSTEM; the status CAS makes the two
// paths safe to race. In async payout mode the job parks in
// WAITING_FOR_PAYMENT and the payout worker performs the release.
func (s *service) Approve(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actorID != models.SystemActorID && actorID != job.CreatedBy {
		return nil, fmt.Errorf("%w: only the requester or the system approve", ErrForbidden)
	}
	switch job.Status {
	case models.StatusCompleted, models.StatusWaitingForPayment:
		return job, nil // already approved
	case models.StatusDispute:
		return nil, ErrDisputeOpen
	case models.StatusWaitingForApproval:
	default:
		return nil, ErrInvalidTransition
	}
	if job.AcceptedBy == nil {
		return nil, fmt.Errorf("job %s waiting for approval without provider", jobID)
	}

	if s.cfg.AsyncPayout {
		return s.approveDeferred(ctx, jobID)
	}
	return s.approveInline(ctx, job)
}

// approveInline completes the job and posts the release in one transaction.
func (s *service) approveInline(ctx context.Context, job *models.Job) (*models.Job, error) {
	feeBps, err := s.providerFeeBps(ctx, *job.AcceptedBy)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.TransitionIf(ctx, tx, job.ID, models.StatusWaitingForApproval, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, job.ID, models.StatusCompleted, models.StatusWaitingForPayment)
	}
	if _, err := s.ledger.Release(ctx, tx, job.ID, *job.AcceptedBy, feeBps); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, notify.EventJobApproved, job, *job.AcceptedBy); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, notify.EventPaymentReleased, job, *job.AcceptedBy); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, job.ID)
}

// approveDeferred parks the job for the payout rail; no money moves yet.
func (s *service) approveDeferred(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.TransitionIf(ctx, tx, jobID, models.StatusWaitingForApproval, models.StatusWaitingForPayment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, jobID, models.StatusCompleted, models.StatusWaitingForPayment)
	}
	if s.enqueuePayout != nil {
		if err := s.enqueuePayout(ctx, tx, jobID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

// CompletePayout is invoked by the payout-rail worker once the external rail
// confirms. It performs the release and completes the job; both the status CAS
// and the hold guard keep replays harmless.
func (s *service) CompletePayout(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.StatusCompleted {
		return nil
	}
	if job.Status != models.StatusWaitingForPayment {
		return ErrInvalidTransition
	}
	if job.AcceptedBy == nil {
		return fmt.Errorf("job %s waiting for payment without provider", jobID)
	}
	feeBps, err := s.providerFeeBps(ctx, *job.AcceptedBy)
	if err != nil {
		return err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.TransitionIf(ctx, tx, jobID, models.StatusWaitingForPayment, models.StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		cur, err := s.store.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if cur.Status == models.StatusCompleted {
			return nil
		}
		return ErrInvalidTransition
	}
	if _, err := s.ledger.Release(ctx, tx, jobID, *job.AcceptedBy, feeBps); err != nil {
		return err
	}
	if err := s.notifyTx(ctx, tx, notify.EventPaymentReleased, job, *job.AcceptedBy); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel moves the job to CANCELLED and refunds any hold. Refund policy: no
// hold exists pre-acceptance; full refund while still ACCEPTED; once work has
// started the cancellation fee is forfeited to the platform.
func (s *service) Cancel(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(job, actorID); err != nil {
		return nil, err
	}
	switch job.Status {
	case models.StatusCancelled:
		return job, nil // idempotent replay, not a second refund
	case models.StatusCompleted:
		return nil, ErrInvalidTransition
	case models.StatusDispute:
		return nil, ErrDisputeOpen
	}

	var feeBps int64
	refund := job.Status != models.StatusOpen
	if job.Status != models.StatusOpen && job.Status != models.StatusAccepted {
		feeBps = s.cfg.CancelFeeBps
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.TransitionIf(ctx, tx, jobID, job.Status, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, jobID, models.StatusCancelled)
	}
	if refund {
		if _, err := s.ledger.Refund(ctx, tx, jobID, feeBps); err != nil {
			return nil, err
		}
	}
	if err := s.notifyTx(ctx, tx, notify.EventJobCancelled, job, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

// OpenDispute freezes the hold until an arbiter decides. Legal only while the
// hold is unresolved and the job awaits approval or payment.
func (s *service) OpenDispute(ctx context.Context, jobID, actorID uuid.UUID, reason string) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(job, actorID); err != nil {
		return nil, err
	}
	if job.Status == models.StatusDispute {
		return job, nil
	}
	if job.Status != models.StatusWaitingForApproval && job.Status != models.StatusWaitingForPayment {
		return nil, ErrInvalidTransition
	}
	ps, err := s.ledger.PaymentStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ps.State != "held" {
		return nil, ledger.ErrAlreadyResolved
	}

	now := time.Now().UTC()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.MarkDisputed(ctx, tx, jobID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.replayOrFail(ctx, jobID, models.StatusDispute)
	}
	if err := s.disputes.CreateTx(ctx, tx, &models.Dispute{
		ID:       uuid.New(),
		JobID:    jobID,
		OpenedBy: actorID,
		Reason:   reason,
		OpenedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, notify.EventDisputeOpened, job, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, jobID)
}

func (s *service) PaymentStatus(ctx context.Context, jobID uuid.UUID) (*ledger.PaymentStatus, error) {
	if _, err := s.store.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.ledger.PaymentStatus(ctx, jobID)
}

// --- helpers ---

func (s *service) requireProvider(ctx context.Context, jobID, providerID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AcceptedBy == nil || *job.AcceptedBy != providerID {
		return nil, fmt.Errorf("%w: only the accepted provider", ErrForbidden)
	}
	return job, nil
}

func (s *service) requireParty(job *models.Job, actorID uuid.UUID) error {
	if actorID == job.CreatedBy {
		return nil
	}
	if job.AcceptedBy != nil && *job.AcceptedBy == actorID {
		return nil
	}
	return ErrForbidden
}

// replayOrFail re-reads the job after a lost CAS. If another caller already
// drove it to one of the acceptable target states the call is an idempotent
// success; anything else is a hard failure the caller should not retry blindly.
func (s *service) replayOrFail(ctx context.Context, jobID uuid.UUID, targets ...models.Status) (*models.Job, error) {
	cur, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if cur.Status == t {
			return cur, nil
		}
	}
	return nil, ErrInvalidTransition
}

func (s *service) providerFeeBps(ctx context.Context, providerID uuid.UUID) (int64, error) {
	completed, err := s.store.CompletedCountByProvider(ctx, providerID)
	if err != nil {
		return 0, err
	}
	return commission.FeeBps(completed), nil
}

func (s *service) notifyTx(ctx context.Context, tx pgx.Tx, event string, job *models.Job, actorID uuid.UUID) error {
	if s.enqueueEvent == nil {
		return nil
	}
	return s.enqueueEvent(ctx, tx, notify.EventArgs{
		Event:   event,
		JobID:   job.ID,
		ActorID: actorID,
	})
}
