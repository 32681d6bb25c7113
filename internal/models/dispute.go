package models

import (
	"time"

	"github.com/google/uuid"
)

// Resolution is an arbiter's decision on a dispute.
type Resolution string

const (
	ResolutionFavorProvider Resolution = "favor_provider"
	ResolutionFavorEmployer Resolution = "favor_employer"
	ResolutionSplit         Resolution = "split"
)

// Dispute records a contested job outcome. A job has at most one open dispute
// and opening one requires the escrow hold to still be unresolved.
type Dispute struct {
	ID           uuid.UUID   `json:"id"`
	JobID        uuid.UUID   `json:"job_id"`
	OpenedBy     uuid.UUID   `json:"opened_by"`
	Reason       string      `json:"reason"`
	OpenedAt     time.Time   `json:"opened_at"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	SplitPercent *int        `json:"split_percent,omitempty"`
	ResolvedBy   *uuid.UUID  `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
}
