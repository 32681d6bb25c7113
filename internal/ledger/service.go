// Package ledger moves money between the employer, provider, platform, and
// escrow accounts. Every movement is an append-only LedgerEntry; balances are
// always derived by summing entries, never stored. Holds are resolved exactly
// once via a conditional update, so a racing second release or refund becomes
// a no-op instead of a double-pay.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigboard/backend/internal/commission"
	"github.com/gigboard/backend/internal/models"
)

var (
	// ErrInsufficientFunds is returned when the employer's derived balance is
	// too low for the requested hold.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoHold is returned when no escrow hold exists for the job.
	ErrNoHold = errors.New("no escrow hold for job")
	// ErrHoldExists is returned when a second hold is attempted for the same job.
	ErrHoldExists = errors.New("escrow hold already exists for job")
	// ErrAlreadyResolved is returned when the hold was resolved the other way
	// (e.g. refund after release). Callers lost a race and should re-read.
	ErrAlreadyResolved = errors.New("escrow hold already resolved")
	// ErrInconsistency means a resolution would not conserve the hold amount.
	// The whole transaction must abort and an operator alert be raised.
	ErrInconsistency = errors.New("ledger inconsistency")
)

// Resolution describes how a hold was (or had previously been) resolved.
// Duplicate is set when the call was an idempotent replay of an earlier
// resolution; no new entries were posted in that case.
type Resolution struct {
	JobID               uuid.UUID `json:"job_id"`
	AmountCents         int64     `json:"amount_cents"`
	ProviderNetCents    int64     `json:"provider_net_cents"`
	CommissionCents     int64     `json:"commission_cents"`
	EmployerRefundCents int64     `json:"employer_refund_cents"`
	Duplicate           bool      `json:"-"`
}

// PaymentStatus is the hold/release/refund view served to the UI layer.
type PaymentStatus struct {
	JobID   uuid.UUID             `json:"job_id"`
	State   string                `json:"state"` // none | held | released | refunded
	Hold    *models.EscrowHold    `json:"hold,omitempty"`
	Entries []*models.LedgerEntry `json:"entries,omitempty"`
}

// Store is the persistence interface the ledger service needs. MarkReleased
// and MarkRefunded must be conditional writes that succeed for exactly one
// caller per hold. AcquireAccountLock must serialize concurrent transactions
// touching the same account until the caller's transaction ends.
type Store interface {
	AcquireAccountLock(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
	CreateHold(ctx context.Context, tx pgx.Tx, h *models.EscrowHold) error
	GetHold(ctx context.Context, jobID uuid.UUID) (*models.EscrowHold, error)
	MarkReleased(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error)
	InsertEntries(ctx context.Context, tx pgx.Tx, entries []*models.LedgerEntry) error
	Append(ctx context.Context, e *models.LedgerEntry) error
	EntriesByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error)
	SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	SumByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
}

type Service interface {
	Hold(ctx context.Context, tx pgx.Tx, jobID, employerID uuid.UUID, amountCents int64) error
	Release(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID, feeBps int64) (*Resolution, error)
	Refund(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, cancelFeeBps int64) (*Resolution, error)
	Split(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID, providerPercent int, feeBps int64) (*Resolution, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amountCents int64) error
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	PaymentStatus(ctx context.Context, jobID uuid.UUID) (*PaymentStatus, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

// Hold earmarks amountCents of the employer's balance for the job. It runs
// inside the caller's transaction so the accept CAS and the hold commit or
// roll back together. The hold posts two entries: employer debit, escrow
// credit. The balance check and the posting happen under a per-employer lock
// held until the transaction ends; without it two holds for different jobs
// could both read the pre-hold SUM and overdraw the account.
func (s *service) Hold(ctx context.Context, tx pgx.Tx, jobID, employerID uuid.UUID, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("hold amount must be positive, got %d", amountCents)
	}
	if err := s.store.AcquireAccountLock(ctx, tx, employerID); err != nil {
		return fmt.Errorf("lock employer account: %w", err)
	}
	balance, err := s.store.SumByAccountTx(ctx, tx, employerID)
	if err != nil {
		return fmt.Errorf("derive employer balance: %w", err)
	}
	if balance < amountCents {
		return ErrInsufficientFunds
	}
	if err := s.store.CreateHold(ctx, tx, &models.EscrowHold{
		JobID:       jobID,
		EmployerID:  employerID,
		AmountCents: amountCents,
	}); err != nil {
		return err
	}
	return s.store.InsertEntries(ctx, tx, []*models.LedgerEntry{
		entry(employerID, jobID, models.EntryHold, -amountCents),
		entry(models.EscrowAccountID, jobID, models.EntryHold, amountCents),
	})
}

// Release pays the provider out of the hold: provider credit, platform
// commission, and the hold-closure debit on the escrow account, all in the
// caller's transaction. A second release for the same job returns the original
// result with Duplicate set instead of re-crediting.
func (s *service) Release(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID, feeBps int64) (*Resolution, error) {
	h, err := s.store.GetHold(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.MarkReleased(ctx, tx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.priorResolution(ctx, jobID, false)
	}

	fee := commission.Fee(h.AmountCents, feeBps)
	net := h.AmountCents - fee
	if net < 0 || net+fee != h.AmountCents {
		return nil, fmt.Errorf("%w: release of %d splits into net %d + fee %d", ErrInconsistency, h.AmountCents, net, fee)
	}

	entries := []*models.LedgerEntry{
		entry(models.EscrowAccountID, jobID, models.EntryRelease, -h.AmountCents),
		entry(providerID, jobID, models.EntryRelease, net),
	}
	if fee > 0 {
		entries = append(entries, entry(models.PlatformAccountID, jobID, models.EntryCommission, fee))
	}
	if err := s.store.InsertEntries(ctx, tx, entries); err != nil {
		return nil, err
	}
	return &Resolution{JobID: jobID, AmountCents: h.AmountCents, ProviderNetCents: net, CommissionCents: fee}, nil
}

// Refund returns the hold to the employer, minus an optional cancellation fee
// forfeited to the platform. Idempotent the same way Release is.
func (s *service) Refund(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, cancelFeeBps int64) (*Resolution, error) {
	h, err := s.store.GetHold(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.MarkRefunded(ctx, tx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.priorResolution(ctx, jobID, true)
	}

	fee := commission.Fee(h.AmountCents, cancelFeeBps)
	refund := h.AmountCents - fee
	if refund < 0 || refund+fee != h.AmountCents {
		return nil, fmt.Errorf("%w: refund of %d splits into refund %d + fee %d", ErrInconsistency, h.AmountCents, refund, fee)
	}

	entries := []*models.LedgerEntry{
		entry(models.EscrowAccountID, jobID, models.EntryRefund, -h.AmountCents),
		entry(h.EmployerID, jobID, models.EntryRefund, refund),
	}
	if fee > 0 {
		entries = append(entries, entry(models.PlatformAccountID, jobID, models.EntryCommission, fee))
	}
	if err := s.store.InsertEntries(ctx, tx, entries); err != nil {
		return nil, err
	}
	return &Resolution{JobID: jobID, AmountCents: h.AmountCents, EmployerRefundCents: refund, CommissionCents: fee}, nil
}

// Split resolves a disputed hold partially each way: the provider receives
// providerPercent of the hold (minus commission on that share) and the
// employer is refunded the remainder. The posted credits must sum to exactly
// the hold amount.
func (s *service) Split(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID, providerPercent int, feeBps int64) (*Resolution, error) {
	if providerPercent < 0 || providerPercent > 100 {
		return nil, fmt.Errorf("split percent must be within [0,100], got %d", providerPercent)
	}
	h, err := s.store.GetHold(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.MarkReleased(ctx, tx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.priorResolution(ctx, jobID, false)
	}

	share := h.AmountCents * int64(providerPercent) / 100
	fee := commission.Fee(share, feeBps)
	net := share - fee
	refund := h.AmountCents - share
	if net < 0 || refund < 0 || net+fee+refund != h.AmountCents {
		return nil, fmt.Errorf("%w: split of %d into net %d + fee %d + refund %d", ErrInconsistency, h.AmountCents, net, fee, refund)
	}

	entries := []*models.LedgerEntry{
		entry(models.EscrowAccountID, jobID, models.EntryRelease, -h.AmountCents),
	}
	if net > 0 {
		entries = append(entries, entry(providerID, jobID, models.EntryRelease, net))
	}
	if fee > 0 {
		entries = append(entries, entry(models.PlatformAccountID, jobID, models.EntryCommission, fee))
	}
	if refund > 0 {
		entries = append(entries, entry(h.EmployerID, jobID, models.EntryRefund, refund))
	}
	if err := s.store.InsertEntries(ctx, tx, entries); err != nil {
		return nil, err
	}
	return &Resolution{JobID: jobID, AmountCents: h.AmountCents, ProviderNetCents: net, CommissionCents: fee, EmployerRefundCents: refund}, nil
}

// Deposit credits an account from outside the platform (wallet top-up).
func (s *service) Deposit(ctx context.Context, accountID uuid.UUID, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amountCents)
	}
	return s.store.Append(ctx, entry(accountID, uuid.Nil, models.EntryDeposit, amountCents))
}

// Balance derives an account balance by summing its ledger entries.
func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.store.SumByAccount(ctx, accountID)
}

// PaymentStatus reports the hold state and entries for one job.
func (s *service) PaymentStatus(ctx context.Context, jobID uuid.UUID) (*PaymentStatus, error) {
	h, err := s.store.GetHold(ctx, jobID)
	if errors.Is(err, ErrNoHold) {
		return &PaymentStatus{JobID: jobID, State: "none"}, nil
	}
	if err != nil {
		return nil, err
	}
	entries, err := s.store.EntriesByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	state := "held"
	switch {
	case h.ReleasedAt != nil:
		state = "released"
	case h.RefundedAt != nil:
		state = "refunded"
	}
	return &PaymentStatus{JobID: jobID, State: state, Hold: h, Entries: entries}, nil
}

// priorResolution reconstructs the original result of an already-resolved hold
// from its posted entries. A caller asking for the opposite resolution kind
// (refund of a released hold or vice versa) gets ErrAlreadyResolved instead.
func (s *service) priorResolution(ctx context.Context, jobID uuid.UUID, wantRefund bool) (*Resolution, error) {
	cur, err := s.store.GetHold(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if wantRefund && cur.RefundedAt == nil || !wantRefund && cur.ReleasedAt == nil {
		return nil, ErrAlreadyResolved
	}
	entries, err := s.store.EntriesByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	res := &Resolution{JobID: jobID, AmountCents: cur.AmountCents, Duplicate: true}
	for _, e := range entries {
		if e.AmountCents <= 0 {
			continue
		}
		switch {
		case e.Kind == models.EntryCommission:
			res.CommissionCents += e.AmountCents
		case e.Kind == models.EntryRelease && e.AccountID != models.EscrowAccountID:
			res.ProviderNetCents += e.AmountCents
		case e.Kind == models.EntryRefund && e.AccountID == cur.EmployerID:
			res.EmployerRefundCents += e.AmountCents
		}
	}
	return res, nil
}

func entry(accountID, jobID uuid.UUID, kind models.EntryKind, amountCents int64) *models.LedgerEntry {
	e := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		AmountCents: amountCents,
	}
	if jobID != uuid.Nil {
		id := jobID
		e.JobID = &id
	}
	return e
}
