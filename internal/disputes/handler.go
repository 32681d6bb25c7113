package disputes

import (
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

// Handler exposes the arbiter surface: fetch a job's dispute and record a
// decision on it.
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

type resolveRequest struct {
	Decision     string `json:"decision"`
	SplitPercent *int   `json:"split_percent,omitempty"`
}

// Get handles GET /v1/jobs/{id}/dispute.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	d, err := h.svc.GetByJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"no dispute for this job"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get dispute failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Resolve handles POST /v1/jobs/{id}/dispute/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	d, err := h.svc.Resolve(r.Context(), jobID, acc.ID, models.Resolution(req.Decision), req.SplitPercent)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, `{"error":"no dispute for this job"}`, http.StatusNotFound)
		case errors.Is(err, ErrConflictingDecision):
			http.Error(w, `{"error":"dispute already resolved with a different decision"}`, http.StatusConflict)
		case errors.Is(err, ErrBadDecision):
			http.Error(w, `{"error":"decision must be favor_provider, favor_employer or split"}`, http.StatusBadRequest)
		case errors.Is(err, ErrBadSplit):
			http.Error(w, `{"error":"split requires split_percent between 0 and 100"}`, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrAlreadyResolved):
			http.Error(w, `{"error":"the payment for this job was already settled"}`, http.StatusConflict)
		default:
			h.log.Error("resolve dispute failed", "error", err, "job_id", jobID)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, d)
}

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
