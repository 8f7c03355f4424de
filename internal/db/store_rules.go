package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

// CreateRule creates an automation rule.
func (s *Store) CreateRule(r *board.AutomationRule) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	triggerCfg, _ := json.Marshal(r.TriggerConfig)
	actionCfg, _ := json.Marshal(r.ActionConfig)

	_, err := s.db.Exec(`
		INSERT INTO automation_rules (id, board_id, name, active, trigger_type, trigger_config,
			action_type, action_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.BoardID, r.Name, r.Active, r.TriggerType, string(triggerCfg),
		r.ActionType, string(actionCfg), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's mutable fields.
func (s *Store) UpdateRule(r *board.AutomationRule) error {
	r.UpdatedAt = time.Now().UTC()
	triggerCfg, _ := json.Marshal(r.TriggerConfig)
	actionCfg, _ := json.Marshal(r.ActionConfig)

	res, err := s.db.Exec(`
		UPDATE automation_rules SET name = ?, active = ?, trigger_type = ?, trigger_config = ?,
			action_type = ?, action_config = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Active, r.TriggerType, string(triggerCfg),
		r.ActionType, string(actionCfg), r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s not found", r.ID)
	}
	return nil
}

// DeleteRule deletes a rule. Deleting only stops future evaluation; there
// are no cascading side effects.
func (s *Store) DeleteRule(id string) error {
	if _, err := s.db.Exec(`DELETE FROM automation_rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(id string) (*board.AutomationRule, bool) {
	row := s.db.QueryRow(ruleSelect+` WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, false
	}
	return r, true
}

// GetRulesByBoard retrieves all rules of a board.
func (s *Store) GetRulesByBoard(boardID string) ([]board.AutomationRule, error) {
	return s.queryRules(ruleSelect+` WHERE board_id = ? ORDER BY created_at, id`, boardID)
}

// GetActiveRules retrieves the active rules of a board for one trigger type.
// Ordering is deterministic (created_at, then id) so two rules touching the
// same field always apply in a stable order.
func (s *Store) GetActiveRules(boardID string, trigger board.TriggerType) ([]board.AutomationRule, error) {
	return s.queryRules(ruleSelect+`
		WHERE board_id = ? AND trigger_type = ? AND active = 1
		ORDER BY created_at, id`, boardID, trigger)
}

const ruleSelect = `
	SELECT id, board_id, name, active, trigger_type, trigger_config,
		action_type, action_config, created_at, updated_at
	FROM automation_rules`

func (s *Store) queryRules(query string, args ...any) ([]board.AutomationRule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []board.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*board.AutomationRule, error) {
	var r board.AutomationRule
	var triggerCfg, actionCfg sql.NullString
	err := row.Scan(&r.ID, &r.BoardID, &r.Name, &r.Active, &r.TriggerType, &triggerCfg,
		&r.ActionType, &actionCfg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if triggerCfg.String != "" {
		_ = json.Unmarshal([]byte(triggerCfg.String), &r.TriggerConfig)
	}
	if actionCfg.String != "" {
		_ = json.Unmarshal([]byte(actionCfg.String), &r.ActionConfig)
	}
	return &r, nil
}
