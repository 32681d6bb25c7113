package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry. Ledger rows are append-only; an
// account's balance is always SUM(amount) over its entries, never a stored
// counter.
type EntryKind string

const (
	EntryHold       EntryKind = "hold"
	EntryRelease    EntryKind = "release"
	EntryRefund     EntryKind = "refund"
	EntryCommission EntryKind = "commission"
	EntryDeposit    EntryKind = "deposit"
)

// EscrowHold earmarks funds for one job. At most one hold exists per job;
// it is resolved exactly once: ReleasedAt XOR RefundedAt XOR still open.
type EscrowHold struct {
	JobID       uuid.UUID  `json:"job_id"`
	EmployerID  uuid.UUID  `json:"employer_id"`
	AmountCents int64      `json:"amount_cents"`
	CreatedAt   time.Time  `json:"created_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// Resolved reports whether the hold has already been released or refunded.
func (h *EscrowHold) Resolved() bool {
	return h.ReleasedAt != nil || h.RefundedAt != nil
}

// LedgerEntry is one immutable balance movement. Amount is signed: debits are
// negative, credits positive.
type LedgerEntry struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	JobID       *uuid.UUID `json:"job_id,omitempty"`
	Kind        EntryKind  `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	CreatedAt   time.Time  `json:"created_at"`
}
