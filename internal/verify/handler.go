package verify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gigboard/backend/internal/middleware"
	"github.com/gigboard/backend/internal/models"
)

type Handler struct {
	client *Client
	log    *slog.Logger
}

func NewHandler(client *Client, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{client: client, log: log}
}

// Check handles POST /v1/verify: the authenticated provider requests an
// identity check on themselves.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if acc.Role != models.RoleProvider {
		http.Error(w, `{"error":"only providers require verification"}`, http.StatusForbidden)
		return
	}

	result, err := h.client.Check(r.Context(), acc.ID, acc.Email, acc.DisplayName)
	if err != nil {
		h.log.Error("identity check failed", "error", err, "account_id", acc.ID)
		http.Error(w, `{"error":"identity check unavailable"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
