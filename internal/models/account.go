package models

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes the two sides of the marketplace.
type Role string

const (
	RoleEmployer Role = "employer"
	RoleProvider Role = "provider"
)

// Well-known system accounts. The platform account collects commissions and
// cancellation fees; the escrow account carries each hold while it is open.
// SystemActorID is the actor recorded when the auto-release scheduler forces
// an approval on the requester's behalf.
var (
	PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	EscrowAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	SystemActorID     = uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
)

// Account is an authenticated party. It carries no balance field: balances are
// derived by summing ledger entries for the account.
type Account struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name"`
	Role              Role       `json:"role"`
	PasswordHash      string     `json:"-"`
	IsVerified        bool       `json:"is_verified"`
	VerificationScore *float64   `json:"verification_score,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
