// Package automation evaluates board-scoped automation rules against trigger
// events and executes their actions.
package automation

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard/board"
	"github.com/pulseboard/pulseboard/internal/db"
)

// Broadcaster publishes realtime events to a board's channel.
type Broadcaster interface {
	BroadcastToBoard(boardID string, ev board.Event)
}

// Engine matches trigger events against a board's active rules and performs
// the configured actions.
type Engine struct {
	store       *db.Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewEngine creates a rule engine.
func NewEngine(store *db.Store, broadcaster Broadcaster, logger *slog.Logger) *Engine {
	return &Engine{store: store, broadcaster: broadcaster, logger: logger}
}

// Dispatch evaluates all active rules of a board for one trigger event.
// Rules run in creation order; each rule is isolated, so one rule failing
// never prevents the rest from evaluating. Actions mutate task state
// directly and do not re-enter the engine, bounding every external event to
// a single hop of automation.
func (e *Engine) Dispatch(boardID string, ev board.TriggerEvent) {
	rules, err := e.store.GetActiveRules(boardID, ev.Type)
	if err != nil {
		e.logger.Error("automation: failed to load rules", "board", boardID, "trigger", ev.Type, "error", err)
		return
	}

	for _, rule := range rules {
		e.runRule(rule, ev)
	}
}

// SweepDueDates fires the due-date trigger for every task whose due date
// has passed and has not fired yet. Each task fires at most once per due
// date; updating the due date re-arms it. Returns how many tasks fired.
func (e *Engine) SweepDueDates(now time.Time) int {
	tasks, err := e.store.GetDueTasks(now)
	if err != nil {
		e.logger.Error("automation: due-date sweep failed", "error", err)
		return 0
	}

	fired := 0
	for _, task := range tasks {
		// Mark before dispatching so a panicking rule cannot cause the
		// same due date to fire again next sweep.
		if err := e.store.MarkDueDateNotified(task.ID); err != nil {
			e.logger.Error("automation: failed to mark due date", "task", task.Ref(), "error", err)
			continue
		}
		e.Dispatch(task.BoardID, board.TriggerEvent{
			Type:   board.TriggerDueDateReached,
			TaskID: task.ID,
		})
		fired++
	}
	if fired > 0 {
		e.logger.Info("due-date sweep complete", "fired", fired)
	}
	return fired
}

// runRule evaluates and executes one rule, containing any failure to it.
func (e *Engine) runRule(rule board.AutomationRule, ev board.TriggerEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("automation: rule panicked", "rule", rule.ID, "panic", r)
		}
	}()

	trigger, err := board.ParseTriggerConfig(rule.TriggerType, rule.TriggerConfig)
	if err != nil {
		e.logger.Error("automation: bad trigger config", "rule", rule.ID, "error", err)
		return
	}
	if !trigger.Matches(ev) {
		return
	}

	action, err := board.ParseActionConfig(rule.ActionType, rule.ActionConfig)
	if err != nil {
		e.logger.Error("automation: bad action config", "rule", rule.ID, "error", err)
		return
	}

	// A rule whose task cannot be resolved is a no-op, not an error.
	task, found := e.store.GetTask(ev.TaskID)
	if !found {
		return
	}

	if err := e.execute(rule, action, task); err != nil {
		e.logger.Error("automation: rule failed", "rule", rule.ID, "task", task.Ref(), "error", err)
		return
	}

	e.logger.Info("automation: rule applied",
		"rule", rule.ID,
		"name", rule.Name,
		"trigger", rule.TriggerType.Title(),
		"action", rule.ActionType.Title(),
		"task", task.Ref())
}

// execute performs one action against the resolved task.
func (e *Engine) execute(rule board.AutomationRule, action board.ActionSpec, task *board.Task) error {
	switch a := action.(type) {
	case board.MoveToColumnAction:
		return e.moveToColumn(task, a)
	case board.AssignUserAction:
		return e.assignUser(task, a)
	case board.AddLabelAction:
		return e.addLabel(task, a)
	case board.UpdateFieldAction:
		return e.updateField(task, a)
	default:
		return fmt.Errorf("unhandled action type %T", action)
	}
}

func (e *Engine) moveToColumn(task *board.Task, a board.MoveToColumnAction) error {
	col, found := e.store.GetColumn(a.ColumnID)
	if !found || col.BoardID != task.BoardID {
		// Target column missing or on another board: no-op.
		return nil
	}
	if task.ColumnID == a.ColumnID {
		return nil
	}

	from := task.ColumnID
	if err := e.store.MoveTask(task.ID, a.ColumnID); err != nil {
		return err
	}
	e.broadcaster.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventTaskMoved, task.ID, board.SystemActor, map[string]any{
		"from_column_id": from,
		"to_column_id":   a.ColumnID,
	}))
	return nil
}

func (e *Engine) assignUser(task *board.Task, a board.AssignUserAction) error {
	added, err := e.store.AssignUser(task.ID, a.UserID, board.SystemActor)
	if err != nil {
		return err
	}
	if added {
		e.broadcaster.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventTaskAssigned, task.ID, board.SystemActor, map[string]any{
			"assignee_id": a.UserID,
		}))
	}
	return nil
}

func (e *Engine) addLabel(task *board.Task, a board.AddLabelAction) error {
	added, err := e.store.AddLabel(task.ID, a.LabelID)
	if err != nil {
		return err
	}
	if added {
		e.broadcaster.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventLabelAdded, task.ID, board.SystemActor, map[string]any{
			"label_id": a.LabelID,
		}))
	}
	return nil
}

func (e *Engine) updateField(task *board.Task, a board.UpdateFieldAction) error {
	if !board.UpdatableFields[a.Field] {
		// Outside the allow-list: silently a no-op.
		return nil
	}

	var value any
	switch a.Field {
	case "due_date":
		t, err := parseDate(a.Value)
		if err != nil {
			return fmt.Errorf("invalid due_date %q: %w", a.Value, err)
		}
		value = t
	case "effort_estimate":
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("invalid effort_estimate %q: %w", a.Value, err)
		}
		value = n
	default:
		value = a.Value
	}

	if err := e.store.UpdateTaskField(task.ID, a.Field, value); err != nil {
		return err
	}
	e.broadcaster.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventTaskUpdated, task.ID, board.SystemActor, map[string]any{
		"field": a.Field,
		"value": a.Value,
	}))
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
