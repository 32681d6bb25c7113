// Package dashboard is the operator and wallet surface: account info, wallet
// balance and history, deposits, and the reconciliation report.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/gigboard/backend/internal/middleware"
	"github.com/gigboard/backend/internal/models"
	"github.com/gigboard/backend/internal/reconcile"
)

// Wallet is the slice of the ledger service the dashboard needs.
type Wallet interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amountCents int64) error
}

// EntryLister pages an account's ledger history.
type EntryLister interface {
	ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// ReportSource provides reconciliation reports on demand.
type ReportSource interface {
	Latest() *reconcile.Report
	Run(ctx context.Context) (*reconcile.Report, error)
}

type Handler struct {
	wallet  Wallet
	entries EntryLister
	reports ReportSource
	log     *slog.Logger
}

func NewHandler(wallet Wallet, entries EntryLister, reports ReportSource, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{wallet: wallet, entries: entries, reports: reports, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetBalance handles GET /v1/wallet/balance. The balance is derived from the
// ledger, never read from a stored counter.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	balance, err := h.wallet.Balance(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("balance query failed", "error", err, "account_id", acc.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    acc.ID,
		"balance_cents": balance,
	})
}

// ListLedger handles GET /v1/wallet/ledger?limit=N.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := h.entries.ListEntriesByAccount(r.Context(), acc.ID, limit)
	if err != nil {
		h.log.Error("list ledger failed", "error", err, "account_id", acc.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Deposit handles POST /v1/wallet/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.AmountCents <= 0 {
		http.Error(w, "amount_cents must be positive", http.StatusBadRequest)
		return
	}
	if err := h.wallet.Deposit(r.Context(), acc.ID, body.AmountCents); err != nil {
		h.log.Error("deposit failed", "error", err, "account_id", acc.ID)
		http.Error(w, "deposit failed", http.StatusInternalServerError)
		return
	}
	balance, err := h.wallet.Balance(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("balance query failed", "error", err, "account_id", acc.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    acc.ID,
		"balance_cents": balance,
	})
}

// GetReconciliationReport handles GET /v1/reconciliation/report.
func (h *Handler) GetReconciliationReport(w http.ResponseWriter, r *http.Request) {
	if middleware.AccountFromCtx(r.Context()) == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	report := h.reports.Latest()
	if report == nil {
		http.Error(w, "no reconciliation run has completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunReconciliation handles POST /v1/reconciliation/run for on-demand checks.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if middleware.AccountFromCtx(r.Context()) == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	report, err := h.reports.Run(r.Context())
	if err != nil {
		h.log.Error("on-demand reconciliation failed", "error", err)
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
