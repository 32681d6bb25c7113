package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigboard/backend/internal/models"
)

// Repository is the Postgres-backed Store. escrow_holds has a unique job_id
// and ledger_entries is append-only: no UPDATE or DELETE is ever issued
// against it.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// AcquireAccountLock takes a transaction-scoped advisory lock keyed on the
// account id. Postgres releases it automatically at commit or rollback, so
// two holds against the same employer serialize and the second one sees the
// first one's entries in its balance SUM.
func (r *Repository) AcquireAccountLock(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextended($1::text, 0))`, accountID)
	return err
}

func (r *Repository) CreateHold(ctx context.Context, tx pgx.Tx, h *models.EscrowHold) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO escrow_holds (job_id, employer_id, amount_cents)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, h.JobID, h.EmployerID, h.AmountCents).Scan(&h.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrHoldExists
	}
	return err
}

func (r *Repository) GetHold(ctx context.Context, jobID uuid.UUID) (*models.EscrowHold, error) {
	var h models.EscrowHold
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, employer_id, amount_cents, created_at, released_at, refunded_at
		FROM escrow_holds WHERE job_id = $1
	`, jobID).Scan(&h.JobID, &h.EmployerID, &h.AmountCents, &h.CreatedAt, &h.ReleasedAt, &h.RefundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoHold
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// MarkReleased resolves the hold iff it is still open. The conditional WHERE
// is the single-winner guard for concurrent releases.
func (r *Repository) MarkReleased(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_holds SET released_at = $1
		WHERE job_id = $2 AND released_at IS NULL AND refunded_at IS NULL
	`, at, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkRefunded(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_holds SET refunded_at = $1
		WHERE job_id = $2 AND released_at IS NULL AND refunded_at IS NULL
	`, at, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) InsertEntries(ctx context.Context, tx pgx.Tx, entries []*models.LedgerEntry) error {
	for _, e := range entries {
		err := tx.QueryRow(ctx, `
			INSERT INTO ledger_entries (id, account_id, job_id, kind, amount_cents)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, e.ID, e.AccountID, e.JobID, e.Kind, e.AmountCents).Scan(&e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Append(ctx context.Context, e *models.LedgerEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, job_id, kind, amount_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.AccountID, e.JobID, e.Kind, e.AmountCents).Scan(&e.CreatedAt)
}

func (r *Repository) EntriesByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, kind, amount_cents, created_at
		FROM ledger_entries WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.Kind, &e.AmountCents, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&total)
	return total, err
}

func (r *Repository) SumByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&total)
	return total, err
}

// ListEntriesByAccount returns an account's ledger history, newest first.
func (r *Repository) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, kind, amount_cents, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.Kind, &e.AmountCents, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
