package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigboard/backend/internal/models"
)

// Repository persists disputes. A partial unique index on (job_id) WHERE
// resolved_at IS NULL enforces at most one open dispute per job at the
// database level.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO disputes (id, job_id, opened_by, reason, opened_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.JobID, d.OpenedBy, d.Reason, d.OpenedAt)
	return err
}

// GetByJob returns the most recent dispute for the job.
func (r *Repository) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, opened_by, reason, opened_at,
		       resolution, split_percent, resolved_by, resolved_at
		FROM disputes
		WHERE job_id = $1
		ORDER BY opened_at DESC
		LIMIT 1
	`, jobID).Scan(&d.ID, &d.JobID, &d.OpenedBy, &d.Reason, &d.OpenedAt,
		&d.Resolution, &d.SplitPercent, &d.ResolvedBy, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ResolveIf stamps the resolution only if the dispute is still open. rows=0
// means another resolution already landed.
func (r *Repository) ResolveIf(ctx context.Context, tx pgx.Tx, disputeID uuid.UUID, res models.Resolution, splitPercent *int, resolvedBy uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET resolution = $2, split_percent = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND resolved_at IS NULL
	`, disputeID, res, splitPercent, resolvedBy, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
