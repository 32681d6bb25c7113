package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of job lifecycle states. A job is mutated only
// through the lifecycle service's transition operations and becomes immutable
// once it reaches StatusCompleted or StatusCancelled.
type Status string

const (
	StatusOpen               Status = "OPEN"
	StatusAccepted           Status = "ACCEPTED"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusWaitingForApproval Status = "WAITING_FOR_APPROVAL"
	StatusWaitingForPayment  Status = "WAITING_FOR_PAYMENT"
	StatusDispute            Status = "DISPUTE"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusInProgress, StatusWaitingForApproval,
		StatusWaitingForPayment, StatusDispute, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Job struct {
	ID               uuid.UUID  `json:"id"`
	CreatedBy        uuid.UUID  `json:"created_by"`
	AcceptedBy       *uuid.UUID `json:"accepted_by,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	PriceCents       int64      `json:"price_cents"`
	Status           Status     `json:"status"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ApprovalDeadline *time.Time `json:"approval_deadline,omitempty"`
	DisputeOpenedAt  *time.Time `json:"dispute_opened_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
