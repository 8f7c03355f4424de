package db

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

// --- Test Helpers ---

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

// seedBoard creates a team with one board and two columns.
func seedBoard(t *testing.T, s *Store) (*board.Team, *board.Board, []board.Column) {
	t.Helper()

	team := &board.Team{ID: "team-1", Name: "Acme", Slug: "acme"}
	if err := s.CreateTeam(team); err != nil {
		t.Fatalf("failed to create team: %v", err)
	}

	b := &board.Board{ID: "board-1", TeamID: team.ID, Name: "Main"}
	if err := s.CreateBoard(b); err != nil {
		t.Fatalf("failed to create board: %v", err)
	}

	cols := []board.Column{
		{ID: "col-todo", BoardID: b.ID, Name: "To Do", Position: 0},
		{ID: "col-done", BoardID: b.ID, Name: "Done", Position: 1},
	}
	for i := range cols {
		if err := s.CreateColumn(&cols[i]); err != nil {
			t.Fatalf("failed to create column: %v", err)
		}
	}
	return team, b, cols
}

func seedTask(t *testing.T, s *Store, id, boardID, columnID, title string) *board.Task {
	t.Helper()
	task := &board.Task{ID: id, BoardID: boardID, ColumnID: columnID, Title: title, Priority: "medium"}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("failed to create task %s: %v", id, err)
	}
	return task
}

// --- Tests ---

func TestTaskNumbering(t *testing.T) {
	s := newTestStore(t)
	_, b, cols := seedBoard(t, s)

	for want := 1; want <= 3; want++ {
		task := seedTask(t, s, fmt.Sprintf("task-%d", want), b.ID, cols[0].ID, "Task")
		if task.Number != want {
			t.Errorf("task %d: got number %d, want %d", want, task.Number, want)
		}
	}

	// A second board numbers independently
	b2 := &board.Board{ID: "board-2", TeamID: "team-1", Name: "Other"}
	if err := s.CreateBoard(b2); err != nil {
		t.Fatalf("failed to create board: %v", err)
	}
	col := &board.Column{ID: "col-b2", BoardID: b2.ID, Name: "To Do"}
	if err := s.CreateColumn(col); err != nil {
		t.Fatalf("failed to create column: %v", err)
	}
	task := seedTask(t, s, "task-b2", b2.ID, col.ID, "Task")
	if task.Number != 1 {
		t.Errorf("second board: got number %d, want 1", task.Number)
	}
}

func TestGetTaskByNumber(t *testing.T) {
	s := newTestStore(t)
	team, b, cols := seedBoard(t, s)
	created := seedTask(t, s, "task-1", b.ID, cols[0].ID, "Findable")

	task, found := s.GetTaskByNumber(team.ID, created.Number)
	if !found {
		t.Fatal("task not found by number")
	}
	if task.ID != created.ID {
		t.Errorf("got task %s, want %s", task.ID, created.ID)
	}
	if task.Ref() != "PB-1" {
		t.Errorf("got ref %s, want PB-1", task.Ref())
	}

	if _, found := s.GetTaskByNumber(team.ID, 999); found {
		t.Error("expected no task for unknown number")
	}
	if _, found := s.GetTaskByNumber("other-team", created.Number); found {
		t.Error("expected no task for other team")
	}
}

func TestMoveAndUpdateTask(t *testing.T) {
	s := newTestStore(t)
	_, b, cols := seedBoard(t, s)
	task := seedTask(t, s, "task-1", b.ID, cols[0].ID, "Movable")

	if err := s.MoveTask(task.ID, cols[1].ID); err != nil {
		t.Fatalf("failed to move task: %v", err)
	}
	got, _ := s.GetTask(task.ID)
	if got.ColumnID != cols[1].ID {
		t.Errorf("got column %s, want %s", got.ColumnID, cols[1].ID)
	}

	if err := s.UpdateTaskField(task.ID, "priority", "urgent"); err != nil {
		t.Fatalf("failed to update priority: %v", err)
	}
	got, _ = s.GetTask(task.ID)
	if got.Priority != "urgent" {
		t.Errorf("got priority %s, want urgent", got.Priority)
	}

	if err := s.UpdateTaskField(task.ID, "title", "hacked"); err == nil {
		t.Error("expected error updating non-writable field")
	}
}

func TestAssignUserIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, b, cols := seedBoard(t, s)
	task := seedTask(t, s, "task-1", b.ID, cols[0].ID, "Assignable")

	user := &board.User{ID: "user-1", Name: "Dana", Email: "dana@example.com"}
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	added, err := s.AssignUser(task.ID, user.ID, "user-2")
	if err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if !added {
		t.Error("first assignment should report added")
	}

	added, err = s.AssignUser(task.ID, user.ID, "user-2")
	if err != nil {
		t.Fatalf("failed on repeat assign: %v", err)
	}
	if added {
		t.Error("repeat assignment should not report added")
	}

	got, _ := s.GetTask(task.ID)
	if len(got.Assignees) != 1 {
		t.Errorf("got %d assignees, want 1", len(got.Assignees))
	}
}

func TestCreateDependency(t *testing.T) {
	s := newTestStore(t)
	_, b, cols := seedBoard(t, s)
	a := seedTask(t, s, "task-a", b.ID, cols[0].ID, "A")
	bb := seedTask(t, s, "task-b", b.ID, cols[0].ID, "B")
	c := seedTask(t, s, "task-c", b.ID, cols[0].ID, "C")

	if err := s.CreateDependency(a.ID, bb.ID, "user-1"); err != nil {
		t.Fatalf("failed to create dependency: %v", err)
	}
	if err := s.CreateDependency(bb.ID, c.ID, "user-1"); err != nil {
		t.Fatalf("failed to create dependency: %v", err)
	}

	// Duplicate edge
	err := s.CreateDependency(a.ID, bb.ID, "user-1")
	var exists board.ErrDependencyExists
	if !errors.As(err, &exists) {
		t.Errorf("got %v, want ErrDependencyExists", err)
	}

	// Self edge
	err = s.CreateDependency(a.ID, a.ID, "user-1")
	var circular board.ErrCircularDependency
	if !errors.As(err, &circular) {
		t.Errorf("got %v, want ErrCircularDependency for self edge", err)
	}

	// Transitive cycle: c -> a would close a -> b -> c
	err = s.CreateDependency(c.ID, a.ID, "user-1")
	if !errors.As(err, &circular) {
		t.Errorf("got %v, want ErrCircularDependency for cycle", err)
	}

	deps, err := s.GetDependencies(a.ID)
	if err != nil {
		t.Fatalf("failed to get dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].DependsOnID != bb.ID {
		t.Errorf("unexpected dependencies: %+v", deps)
	}
}

func TestDueDateQueue(t *testing.T) {
	s := newTestStore(t)
	_, b, cols := seedBoard(t, s)
	now := time.Now().UTC()

	overdue := seedTask(t, s, "task-overdue", b.ID, cols[0].ID, "Late")
	upcoming := seedTask(t, s, "task-upcoming", b.ID, cols[0].ID, "Soon")
	seedTask(t, s, "task-undated", b.ID, cols[0].ID, "Whenever")

	if err := s.UpdateTaskField(overdue.ID, "due_date", now.Add(-time.Hour)); err != nil {
		t.Fatalf("failed to set due date: %v", err)
	}
	if err := s.UpdateTaskField(upcoming.ID, "due_date", now.Add(time.Hour)); err != nil {
		t.Fatalf("failed to set due date: %v", err)
	}

	due, err := s.GetDueTasks(now)
	if err != nil {
		t.Fatalf("failed to query due tasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != overdue.ID {
		t.Fatalf("got %+v, want only the overdue task", due)
	}

	// Notified tasks leave the queue
	if err := s.MarkDueDateNotified(overdue.ID); err != nil {
		t.Fatalf("failed to mark notified: %v", err)
	}
	due, _ = s.GetDueTasks(now)
	if len(due) != 0 {
		t.Errorf("got %d due tasks after notify, want 0", len(due))
	}

	// Updating the due date re-arms the task
	if err := s.UpdateTaskField(overdue.ID, "due_date", now.Add(-time.Minute)); err != nil {
		t.Fatalf("failed to update due date: %v", err)
	}
	due, _ = s.GetDueTasks(now)
	if len(due) != 1 || due[0].ID != overdue.ID {
		t.Errorf("got %+v, want the re-armed task", due)
	}
}

func TestDeleteLastColumn(t *testing.T) {
	s := newTestStore(t)
	_, _, cols := seedBoard(t, s)

	if err := s.DeleteColumn(cols[1].ID); err != nil {
		t.Fatalf("failed to delete column: %v", err)
	}
	if err := s.DeleteColumn(cols[0].ID); !errors.Is(err, ErrLastColumn) {
		t.Errorf("got %v, want ErrLastColumn", err)
	}
}

func TestRuleOrderingAndActiveFilter(t *testing.T) {
	s := newTestStore(t)
	_, b, _ := seedBoard(t, s)

	base := time.Now().UTC().Add(-time.Hour)
	rules := []board.AutomationRule{
		{ID: "rule-b", BoardID: b.ID, Name: "Second", Active: true,
			TriggerType: board.TriggerTaskMoved, ActionType: board.ActionAddLabel,
			ActionConfig: map[string]string{"label_id": "l1"}, CreatedAt: base.Add(time.Minute)},
		{ID: "rule-a", BoardID: b.ID, Name: "First", Active: true,
			TriggerType: board.TriggerTaskMoved, ActionType: board.ActionAddLabel,
			ActionConfig: map[string]string{"label_id": "l2"}, CreatedAt: base},
		{ID: "rule-off", BoardID: b.ID, Name: "Disabled", Active: false,
			TriggerType: board.TriggerTaskMoved, ActionType: board.ActionAddLabel,
			ActionConfig: map[string]string{"label_id": "l3"}, CreatedAt: base},
		{ID: "rule-other", BoardID: b.ID, Name: "Other trigger", Active: true,
			TriggerType: board.TriggerTaskCreated, ActionType: board.ActionAddLabel,
			ActionConfig: map[string]string{"label_id": "l4"}, CreatedAt: base},
	}
	for i := range rules {
		if err := s.CreateRule(&rules[i]); err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}
	}

	active, err := s.GetActiveRules(b.ID, board.TriggerTaskMoved)
	if err != nil {
		t.Fatalf("failed to get active rules: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active rules, want 2", len(active))
	}
	if active[0].ID != "rule-a" || active[1].ID != "rule-b" {
		t.Errorf("rules out of creation order: %s, %s", active[0].ID, active[1].ID)
	}

	all, err := s.GetRulesByBoard(b.ID)
	if err != nil {
		t.Fatalf("failed to get rules: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("got %d rules, want 4", len(all))
	}
}

func TestRuleConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, b, _ := seedBoard(t, s)

	rule := &board.AutomationRule{
		ID: "rule-1", BoardID: b.ID, Name: "Move merged", Active: true,
		TriggerType:   board.TriggerTaskMoved,
		TriggerConfig: map[string]string{"from_column_id": "col-todo", "to_column_id": "col-done"},
		ActionType:    board.ActionUpdateField,
		ActionConfig:  map[string]string{"field": "priority", "value": "low"},
	}
	if err := s.CreateRule(rule); err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	got, found := s.GetRule(rule.ID)
	if !found {
		t.Fatal("rule not found")
	}
	if got.TriggerConfig["to_column_id"] != "col-done" {
		t.Errorf("trigger config lost: %+v", got.TriggerConfig)
	}
	if got.ActionConfig["field"] != "priority" {
		t.Errorf("action config lost: %+v", got.ActionConfig)
	}

	got.Active = false
	if err := s.UpdateRule(got); err != nil {
		t.Fatalf("failed to update rule: %v", err)
	}
	got, _ = s.GetRule(rule.ID)
	if got.Active {
		t.Error("rule still active after update")
	}
}
