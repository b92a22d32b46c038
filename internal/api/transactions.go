package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
)

// Paging of GET /transactions.
const (
	defaultListLimit = 50
	maxListLimit     = 100000
)

// QueuedResponse is the body of an accepted async ingest.
type QueuedResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// TransactionList is the body of GET /transactions.
type TransactionList struct {
	Transactions []*domain.ScoredTransaction `json:"transactions"`
	Count        int                         `json:"count"`
}

// VerifyRequest is the body of POST /transactions/{id}/verify.
type VerifyRequest struct {
	Verdict domain.Verdict `json:"verdict"`
}

// IngestTransaction handles POST /transactions. The receiver's graph
// context comes from stored history, not from the request.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := features.ParseRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	tx := req.Transaction
	if tx.ReceiverAccount == "" {
		writeError(w, http.StatusBadRequest, "receiver_account is required")
		return
	}

	if r.URL.Query().Get("async") == "true" && h.asyncIngest {
		id, err := h.scoring.Enqueue(r.Context(), &tx)
		if err != nil {
			slog.Error("failed to enqueue transaction", "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to enqueue transaction")
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{Status: "queued", TransactionID: id})
		return
	}

	assessment, err := h.scoring.Ingest(r.Context(), &tx)
	if err != nil {
		h.writeScoringError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// ListTransactions handles GET /transactions?limit=&min_risk=.
// Unparseable parameters fall back to their defaults.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxListLimit)
	}

	minRisk := 0.0
	if v, err := strconv.ParseFloat(r.URL.Query().Get("min_risk"), 64); err == nil {
		minRisk = v
	}

	txs, err := h.repo.ListRecentTransactions(r.Context(), limit, minRisk)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*domain.ScoredTransaction{}
	}

	writeJSON(w, http.StatusOK, TransactionList{Transactions: txs, Count: len(txs)})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("failed to get transaction", "transaction_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// VerifyTransaction handles POST /transactions/{id}/verify.
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Verdict.Valid() {
		writeError(w, http.StatusBadRequest, "verdict must be CONFIRMED_FRAUD or FALSE_POSITIVE")
		return
	}

	if err := h.repo.UpdateVerification(r.Context(), txID, req.Verdict); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("failed to verify transaction", "transaction_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify transaction")
		return
	}

	slog.Info("transaction verified", "transaction_id", txID, "verdict", req.Verdict)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	domain.VerificationStats
	FalsePositiveRate float64 `json:"false_positive_rate"`
	Summary           string  `json:"summary"`
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetVerificationStats(r.Context())
	if err != nil {
		slog.Error("failed to get stats", "error", err)
		stats = &domain.VerificationStats{}
	}

	resp := StatsResponse{VerificationStats: *stats}
	if stats.Checked > 0 {
		resp.FalsePositiveRate = float64(stats.FalsePositives) / float64(stats.Checked)
	}
	resp.Summary = humanize.Comma(int64(stats.Checked)) + " reviewed, " +
		humanize.Comma(int64(stats.FalsePositives)) + " false positives"

	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST /admin/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.scoring.Reset(r.Context()); err != nil {
		slog.Error("failed to reset", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "System reset successful (transactions & stats wiped)"})
}
