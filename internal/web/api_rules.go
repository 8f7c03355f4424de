package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/board"
)

// apiGetRules lists a board's automation rules.
func (s *Server) apiGetRules(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	if _, found := s.store.GetBoard(boardID); !found {
		s.jsonError(w, "Board not found", http.StatusNotFound)
		return
	}

	rules, err := s.store.GetRulesByBoard(boardID)
	if err != nil {
		s.jsonError(w, "Failed to get rules", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, rules)
}

// CreateRuleRequest is the request body for creating an automation rule.
type CreateRuleRequest struct {
	Name          string            `json:"name"`
	Active        *bool             `json:"active"`
	TriggerType   string            `json:"triggerType"`
	TriggerConfig map[string]string `json:"triggerConfig"`
	ActionType    string            `json:"actionType"`
	ActionConfig  map[string]string `json:"actionConfig"`
}

// validateRule parses both halves of a rule's configuration so malformed
// rules are rejected here instead of silently skipped at dispatch time.
func validateRule(rule *board.AutomationRule) error {
	if _, err := board.ParseTriggerConfig(rule.TriggerType, rule.TriggerConfig); err != nil {
		return err
	}
	if _, err := board.ParseActionConfig(rule.ActionType, rule.ActionConfig); err != nil {
		return err
	}
	return nil
}

// apiCreateRule creates an automation rule on a board.
func (s *Server) apiCreateRule(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	if _, found := s.store.GetBoard(boardID); !found {
		s.jsonError(w, "Board not found", http.StatusNotFound)
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.jsonError(w, "Name is required", http.StatusBadRequest)
		return
	}

	rule := &board.AutomationRule{
		ID:            uuid.New().String(),
		BoardID:       boardID,
		Name:          req.Name,
		Active:        true,
		TriggerType:   board.TriggerType(req.TriggerType),
		TriggerConfig: req.TriggerConfig,
		ActionType:    board.ActionType(req.ActionType),
		ActionConfig:  req.ActionConfig,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if !rule.TriggerType.Valid() {
		s.jsonError(w, "Unknown trigger type", http.StatusBadRequest)
		return
	}
	if !rule.ActionType.Valid() {
		s.jsonError(w, "Unknown action type", http.StatusBadRequest)
		return
	}
	if err := validateRule(rule); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateRule(rule); err != nil {
		s.logger.Error("Failed to create rule", "board", boardID, "error", err)
		s.jsonError(w, "Failed to create rule", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, rule)
}

// UpdateRuleRequest is the request body for patching a rule. Nil fields are
// left unchanged.
type UpdateRuleRequest struct {
	Name          *string            `json:"name"`
	Active        *bool              `json:"active"`
	TriggerType   *string            `json:"triggerType"`
	TriggerConfig *map[string]string `json:"triggerConfig"`
	ActionType    *string            `json:"actionType"`
	ActionConfig  *map[string]string `json:"actionConfig"`
}

// apiUpdateRule patches an automation rule.
func (s *Server) apiUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, found := s.store.GetRule(id)
	if !found {
		s.jsonError(w, "Rule not found", http.StatusNotFound)
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.TriggerType != nil {
		rule.TriggerType = board.TriggerType(*req.TriggerType)
	}
	if req.TriggerConfig != nil {
		rule.TriggerConfig = *req.TriggerConfig
	}
	if req.ActionType != nil {
		rule.ActionType = board.ActionType(*req.ActionType)
	}
	if req.ActionConfig != nil {
		rule.ActionConfig = *req.ActionConfig
	}

	if !rule.TriggerType.Valid() {
		s.jsonError(w, "Unknown trigger type", http.StatusBadRequest)
		return
	}
	if !rule.ActionType.Valid() {
		s.jsonError(w, "Unknown action type", http.StatusBadRequest)
		return
	}
	if err := validateRule(rule); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateRule(rule); err != nil {
		s.logger.Error("Failed to update rule", "rule", id, "error", err)
		s.jsonError(w, "Failed to update rule", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, rule)
}

// apiDeleteRule deletes an automation rule.
func (s *Server) apiDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetRule(id); !found {
		s.jsonError(w, "Rule not found", http.StatusNotFound)
		return
	}

	if err := s.store.DeleteRule(id); err != nil {
		s.logger.Error("Failed to delete rule", "rule", id, "error", err)
		s.jsonError(w, "Failed to delete rule", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"message": "rule deleted"})
}
