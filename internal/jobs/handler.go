package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gigboard/backend/internal/ledger"
	"github.com/gigboard/backend/internal/middleware"
	"github.com/gigboard/backend/internal/models"
)

// Handler serves the /v1/jobs engine surface. Every transition returns the
// resulting status or a typed error code; expected races (someone else
// accepted first, the scheduler approved first) surface as actionable 409s.
type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

type createJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type jobResponse struct {
	ID         string        `json:"id"`
	Status     models.Status `json:"status"`
	Title      string        `json:"title"`
	PriceCents int64         `json:"price_cents"`
	CreatedBy  string        `json:"created_by"`
	AcceptedBy *string       `json:"accepted_by,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	if acc.Role != models.RoleEmployer {
		writeError(w, http.StatusForbidden, "only employers create jobs", "forbidden")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	if req.Title == "" || req.PriceCents <= 0 {
		writeError(w, http.StatusBadRequest, "title and a positive price_cents are required", "")
		return
	}
	job, err := h.svc.Create(r.Context(), acc.ID, req.Title, req.Description, req.PriceCents)
	if err != nil {
		h.log.Error("create job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create job failed", "")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(job))
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := extractJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	job, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(job))
}

// ListJobs handles GET /v1/jobs for the authenticated employer.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	list, err := h.svc.ListByEmployer(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list jobs failed", "")
		return
	}
	resp := make([]jobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, toResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Accept handles POST /v1/jobs/{id}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Accept)
}

// Start handles POST /v1/jobs/{id}/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

// Submit handles POST /v1/jobs/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Submit)
}

// Approve handles POST /v1/jobs/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Approve)
}

// Cancel handles POST /v1/jobs/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

// Dispute handles POST /v1/jobs/{id}/dispute.
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	jobID, ok := extractJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "a dispute reason is required", "")
		return
	}
	job, err := h.svc.OpenDispute(r.Context(), jobID, acc.ID, req.Reason)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(job))
}

// PaymentStatus handles GET /v1/jobs/{id}/payment-status.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := extractJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	ps, err := h.svc.PaymentStatus(r.Context(), jobID)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// transition runs one (jobID, actorID) lifecycle operation for the
// authenticated account.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, jobID, actorID uuid.UUID) (*models.Job, error)) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	jobID, ok := extractJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	job, err := op(r.Context(), jobID, acc.ID)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(job))
}

func toResponse(j *models.Job) jobResponse {
	out := jobResponse{
		ID:         j.ID.String(),
		Status:     j.Status,
		Title:      j.Title,
		PriceCents: j.PriceCents,
		CreatedBy:  j.CreatedBy.String(),
	}
	if j.AcceptedBy != nil {
		s := j.AcceptedBy.String()
		out.AcceptedBy = &s
	}
	return out
}

// writeTransitionError maps the engine's error taxonomy onto HTTP statuses
// with specific, actionable messages.
func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", "not_found")
	case errors.Is(err, ErrAlreadyAccepted):
		writeError(w, http.StatusConflict, "this job was already accepted by someone else", "already_accepted")
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, "the job is not in a status that allows this action", "invalid_transition")
	case errors.Is(err, ErrDisputeOpen):
		writeError(w, http.StatusConflict, "this job has an open dispute; wait for the arbiter decision", "dispute_open")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "you may not perform this action on this job", "forbidden")
	case errors.Is(err, ErrUnverifiedProvider):
		writeError(w, http.StatusForbidden, "complete identity verification before accepting jobs", "unverified_provider")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "the employer's balance cannot cover this job", "insufficient_funds")
	case errors.Is(err, ledger.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "the payment for this job was already settled", "already_resolved")
	case errors.Is(err, ledger.ErrInconsistency):
		h.log.Error("ledger inconsistency", "error", err)
		writeError(w, http.StatusInternalServerError, "payment aborted: ledger inconsistency detected", "ledger_inconsistency")
	default:
		h.log.Error("transition failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// extractJobID parses the job UUID from paths like /v1/jobs/{id} and
// /v1/jobs/{id}/accept.
func extractJobID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
