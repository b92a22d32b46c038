package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/heron/internal/domain"
)

// RulesResponse is the body of GET /rules.
type RulesResponse struct {
	Config domain.ModelConfig `json:"config"`
	Groups []domain.RuleGroup `json:"groups"`
}

// ToggleRequest is the body of POST /rules/update.
type ToggleRequest struct {
	ID      string `json:"id"`
	Enabled *bool  `json:"enabled"`
}

// GroupToggleRequest is the body of POST /rules/groups/update.
type GroupToggleRequest struct {
	GroupID string `json:"group_id"`
	Enabled *bool  `json:"enabled"`
}

// StatusResponse is the body of the registry update endpoints.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ToggleEvent is published on heron.rule.toggled.
type ToggleEvent struct {
	Target  string `json:"target"` // "rule" or "group"
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RulesResponse{
		Config: domain.ModelConfig{
			Version: domain.RuleVersion,
			RiskModel: domain.RiskModel{
				ScoringType: domain.ScoringType,
				Thresholds:  h.scoring.Thresholds().View(),
			},
			UIConfig: domain.UIConfig{
				Toggleable:  true,
				DefaultView: "grouped_by_use_case",
			},
		},
		Groups: h.registry.List(),
	})
}

// UpdateRule handles POST /rules/update.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "error", Message: "id and enabled are required"})
		return
	}

	if err := h.registry.Toggle(req.ID, *req.Enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, StatusResponse{Status: "error", Message: "Rule not found"})
			return
		}
		slog.Error("failed to toggle rule", "rule_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "error", Message: "update failed"})
		return
	}

	h.toggled(r, ToggleEvent{Target: "rule", ID: req.ID, Enabled: *req.Enabled})
	writeJSON(w, http.StatusOK, StatusResponse{Status: "success", Message: fmt.Sprintf("Rule %s updated", req.ID)})
}

// UpdateGroup handles POST /rules/groups/update.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GroupID == "" || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "error", Message: "group_id and enabled are required"})
		return
	}

	if err := h.registry.SetGroupEnabled(req.GroupID, *req.Enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, StatusResponse{Status: "error", Message: "Group not found"})
			return
		}
		slog.Error("failed to toggle group", "group_id", req.GroupID, "error", err)
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "error", Message: "update failed"})
		return
	}

	h.toggled(r, ToggleEvent{Target: "group", ID: req.GroupID, Enabled: *req.Enabled})
	writeJSON(w, http.StatusOK, StatusResponse{Status: "success", Message: fmt.Sprintf("Group %s updated", req.GroupID)})
}

// toggled records and announces a registry change.
func (h *Handler) toggled(r *http.Request, ev ToggleEvent) {
	slog.Info("rule registry updated", "target", ev.Target, "id", ev.ID, "enabled", ev.Enabled)
	h.metrics.RuleToggled(ev.Target, ev.ID, ev.Enabled)

	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode rule toggle", "id", ev.ID, "error", err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicRuleToggled, payload); err != nil {
		slog.Error("failed to publish rule toggle", "id", ev.ID, "error", err)
	}
}
