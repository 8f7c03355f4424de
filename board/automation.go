package board

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TriggerType is the event condition an automation rule listens for.
type TriggerType string

const (
	TriggerTaskMoved      TriggerType = "task_moved"
	TriggerTaskCreated    TriggerType = "task_created"
	TriggerTaskAssigned   TriggerType = "task_assigned"
	TriggerLabelAdded     TriggerType = "label_added"
	TriggerDueDateReached TriggerType = "due_date_reached"
	TriggerMRMerged       TriggerType = "gitlab_mr_merged"
	TriggerPipelineStatus TriggerType = "gitlab_pipeline_status"
)

// TriggerTypes lists all known trigger types.
var TriggerTypes = []TriggerType{
	TriggerTaskMoved,
	TriggerTaskCreated,
	TriggerTaskAssigned,
	TriggerLabelAdded,
	TriggerDueDateReached,
	TriggerMRMerged,
	TriggerPipelineStatus,
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

var titleCaser = cases.Title(language.English)

// Title returns a humanized trigger name for display, e.g. "Task Moved".
func (t TriggerType) Title() string {
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// ActionType is the side effect a rule performs once triggered.
type ActionType string

const (
	ActionMoveToColumn ActionType = "move_to_column"
	ActionAssignUser   ActionType = "assign_user"
	ActionAddLabel     ActionType = "add_label"
	ActionUpdateField  ActionType = "update_field"
)

// ActionTypes lists all known action types.
var ActionTypes = []ActionType{
	ActionMoveToColumn,
	ActionAssignUser,
	ActionAddLabel,
	ActionUpdateField,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// Title returns a humanized action name for display, e.g. "Move To Column".
func (a ActionType) Title() string {
	return titleCaser.String(strings.ReplaceAll(string(a), "_", " "))
}

// AutomationRule is a board-scoped rule: when a trigger event matching
// TriggerConfig occurs, perform ActionType with ActionConfig. The stored
// configs stay open key/value documents; they are parsed into typed configs
// at the evaluation boundary.
type AutomationRule struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`

	TriggerType   TriggerType       `json:"triggerType"`
	TriggerConfig map[string]string `json:"triggerConfig,omitempty"`
	ActionType    ActionType        `json:"actionType"`
	ActionConfig  map[string]string `json:"actionConfig,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TriggerEvent carries the event-specific fields a trigger can constrain on.
// Fields irrelevant to the event type are left empty.
type TriggerEvent struct {
	Type   TriggerType
	TaskID string

	FromColumnID   string // task_moved
	ToColumnID     string // task_moved
	UserID         string // task_assigned
	LabelID        string // label_added
	PipelineStatus string // gitlab_pipeline_status
}

// TriggerConfigSpec is the typed form of a rule's trigger configuration.
// Exactly one concrete type exists per trigger type.
type TriggerConfigSpec interface {
	// Matches reports whether the event satisfies the configured
	// constraints. Unset constraint fields match anything.
	Matches(ev TriggerEvent) bool
}

// TaskMovedConfig constrains a task_moved trigger by source and/or target column.
type TaskMovedConfig struct {
	FromColumnID string
	ToColumnID   string
}

func (c TaskMovedConfig) Matches(ev TriggerEvent) bool {
	if c.FromColumnID != "" && c.FromColumnID != ev.FromColumnID {
		return false
	}
	if c.ToColumnID != "" && c.ToColumnID != ev.ToColumnID {
		return false
	}
	return true
}

// TaskAssignedConfig constrains a task_assigned trigger by assignee.
type TaskAssignedConfig struct {
	UserID string
}

func (c TaskAssignedConfig) Matches(ev TriggerEvent) bool {
	return c.UserID == "" || c.UserID == ev.UserID
}

// LabelAddedConfig constrains a label_added trigger by label.
type LabelAddedConfig struct {
	LabelID string
}

func (c LabelAddedConfig) Matches(ev TriggerEvent) bool {
	return c.LabelID == "" || c.LabelID == ev.LabelID
}

// PipelineStatusConfig constrains a gitlab_pipeline_status trigger by status.
type PipelineStatusConfig struct {
	Status string
}

func (c PipelineStatusConfig) Matches(ev TriggerEvent) bool {
	return c.Status == "" || c.Status == ev.PipelineStatus
}

// UnconditionalConfig is the config for triggers with no configurable
// constraints: task_created, due_date_reached, gitlab_mr_merged.
type UnconditionalConfig struct{}

func (UnconditionalConfig) Matches(TriggerEvent) bool { return true }

// ParseTriggerConfig maps a stored trigger config document to its typed form.
func ParseTriggerConfig(t TriggerType, cfg map[string]string) (TriggerConfigSpec, error) {
	switch t {
	case TriggerTaskMoved:
		return TaskMovedConfig{
			FromColumnID: cfg["from_column_id"],
			ToColumnID:   cfg["to_column_id"],
		}, nil
	case TriggerTaskAssigned:
		return TaskAssignedConfig{UserID: cfg["user_id"]}, nil
	case TriggerLabelAdded:
		return LabelAddedConfig{LabelID: cfg["label_id"]}, nil
	case TriggerPipelineStatus:
		return PipelineStatusConfig{Status: cfg["pipeline_status"]}, nil
	case TriggerTaskCreated, TriggerDueDateReached, TriggerMRMerged:
		return UnconditionalConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}
}

// ActionSpec is the typed form of a rule's action configuration.
type ActionSpec interface {
	isAction()
}

// MoveToColumnAction moves the task to the configured column. The column
// must belong to the task's board or the action is a no-op.
type MoveToColumnAction struct {
	ColumnID string
}

// AssignUserAction attaches the configured user if not already assigned.
type AssignUserAction struct {
	UserID string
}

// AddLabelAction attaches the configured label if not already present.
type AddLabelAction struct {
	LabelID string
}

// UpdateFieldAction sets one task field to a fixed value. Fields outside
// UpdatableFields are rejected silently at execution time.
type UpdateFieldAction struct {
	Field string
	Value string
}

func (MoveToColumnAction) isAction() {}
func (AssignUserAction) isAction()   {}
func (AddLabelAction) isAction()     {}
func (UpdateFieldAction) isAction()  {}

// UpdatableFields is the allow-list for UpdateFieldAction.
var UpdatableFields = map[string]bool{
	"priority":        true,
	"due_date":        true,
	"effort_estimate": true,
}

// ParseActionConfig maps a stored action config document to its typed form.
func ParseActionConfig(a ActionType, cfg map[string]string) (ActionSpec, error) {
	switch a {
	case ActionMoveToColumn:
		if cfg["column_id"] == "" {
			return nil, fmt.Errorf("move_to_column: column_id is required")
		}
		return MoveToColumnAction{ColumnID: cfg["column_id"]}, nil
	case ActionAssignUser:
		if cfg["user_id"] == "" {
			return nil, fmt.Errorf("assign_user: user_id is required")
		}
		return AssignUserAction{UserID: cfg["user_id"]}, nil
	case ActionAddLabel:
		if cfg["label_id"] == "" {
			return nil, fmt.Errorf("add_label: label_id is required")
		}
		return AddLabelAction{LabelID: cfg["label_id"]}, nil
	case ActionUpdateField:
		if cfg["field"] == "" {
			return nil, fmt.Errorf("update_field: field is required")
		}
		return UpdateFieldAction{Field: cfg["field"], Value: cfg["value"]}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", a)
	}
}
