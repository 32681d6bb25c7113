package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigboard/backend/internal/models"
)

const jobColumns = `id, created_by, accepted_by, title, description, price_cents, status,
	submitted_at, approval_deadline, dispute_opened_at, created_at, updated_at`

// Repository is the Postgres-backed job Store. Every status mutation is a
// single conditional UPDATE keyed on the expected prior status.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, created_by, title, description, price_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, j.ID, j.CreatedBy, j.Title, j.Description, j.PriceCents, j.Status).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID).Scan(
		&j.ID, &j.CreatedBy, &j.AcceptedBy, &j.Title, &j.Description, &j.PriceCents, &j.Status,
		&j.SubmittedAt, &j.ApprovalDeadline, &j.DisputeOpenedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE created_by = $1 ORDER BY created_at DESC
	`, employerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.CreatedBy, &j.AcceptedBy, &j.Title, &j.Description, &j.PriceCents, &j.Status,
			&j.SubmittedAt, &j.ApprovalDeadline, &j.DisputeOpenedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// AcceptIfOpen assigns the provider iff the job is still OPEN and unclaimed.
func (r *Repository) AcceptIfOpen(ctx context.Context, tx pgx.Tx, jobID, providerID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, accepted_by = $2, updated_at = now()
		WHERE id = $3 AND status = $4 AND accepted_by IS NULL
	`, models.StatusAccepted, providerID, jobID, models.StatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) TransitionIf(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from, to models.Status) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, jobID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkSubmitted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, submittedAt, deadline time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, submitted_at = $2, approval_deadline = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, models.StatusWaitingForApproval, submittedAt, deadline, jobID, models.StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkDisputed(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, dispute_opened_at = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)
	`, models.StatusDispute, at, jobID, []models.Status{models.StatusWaitingForApproval, models.StatusWaitingForPayment})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CompletedCountByProvider(ctx context.Context, providerID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE accepted_by = $1 AND status = $2
	`, providerID, models.StatusCompleted).Scan(&n)
	return n, err
}

// ListDueForAutoApproval returns jobs awaiting approval past their deadline
// with no open dispute, for the auto-release sweep.
func (r *Repository) ListDueForAutoApproval(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT j.id FROM jobs j
		WHERE j.status = $1 AND j.approval_deadline <= $2
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.job_id = j.id AND d.resolved_at IS NULL)
		ORDER BY j.approval_deadline ASC
		LIMIT $3
	`, models.StatusWaitingForApproval, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
