package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/domain"
)

// accountHistoryLimit is the number of transactions in GET /accounts/{id}.
const accountHistoryLimit = 20

// GetAccount handles GET /accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	history, err := h.repo.GetAccountHistory(r.Context(), accountID, accountHistoryLimit)
	if err != nil {
		slog.Error("failed to get account history", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get account history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// GetAccountContext handles GET /accounts/{id}/context.
func (h *Handler) GetAccountContext(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	gc, err := h.graph.Lookup(r.Context(), accountID)
	if err != nil {
		slog.Error("failed to get account context", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get account context")
		return
	}

	writeJSON(w, http.StatusOK, gc)
}

// PutAccountProfile handles PUT /accounts/{id}/profile. It is only
// available with the store feature provider.
func (h *Handler) PutAccountProfile(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		writeError(w, http.StatusNotImplemented, "profile store not enabled")
		return
	}
	accountID := chi.URLParam(r, "id")

	var profile domain.BehaviorProfile
	if !decodeJSON(w, r, &profile) {
		return
	}

	if err := h.profiles.StoreProfile(r.Context(), accountID, &profile); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to store profile", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "account_id": accountID})
}
