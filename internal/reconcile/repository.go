package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CompletedWithoutRelease(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT j.id
		FROM jobs j
		JOIN escrow_holds h ON h.job_id = j.id
		WHERE j.status = 'COMPLETED' AND h.released_at IS NULL
	`)
}

func (r *Repository) CancelledWithOpenHold(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT j.id
		FROM jobs j
		JOIN escrow_holds h ON h.job_id = j.id
		WHERE j.status = 'CANCELLED'
		  AND h.released_at IS NULL AND h.refunded_at IS NULL
	`)
}

func (r *Repository) UnbalancedResolvedHolds(ctx context.Context) ([]JobImbalance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.job_id, COALESCE(SUM(e.amount_cents), 0) AS total
		FROM escrow_holds h
		JOIN ledger_entries e ON e.job_id = h.job_id
		WHERE h.released_at IS NOT NULL OR h.refunded_at IS NOT NULL
		GROUP BY h.job_id
		HAVING COALESCE(SUM(e.amount_cents), 0) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobImbalance
	for rows.Next() {
		var im JobImbalance
		if err := rows.Scan(&im.JobID, &im.SumCents); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

func (r *Repository) HoldsWithoutJob(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT h.job_id
		FROM escrow_holds h
		LEFT JOIN jobs j ON j.id = h.job_id
		WHERE j.id IS NULL
	`)
}

func (r *Repository) OverdueUnswept(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT j.id
		FROM jobs j
		WHERE j.status = 'WAITING_FOR_APPROVAL'
		  AND j.approval_deadline <= $1
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.job_id = j.id AND d.resolved_at IS NULL)
	`, before)
}

func (r *Repository) CountJobsWithHolds(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrow_holds`).Scan(&n)
	return n, err
}

func (r *Repository) queryIDs(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
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
