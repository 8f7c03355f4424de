package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

const taskColumns = `id, board_id, column_id, task_number, position, title, description,
	priority, due_date, effort_estimate, created_by, created_at, updated_at`

// CreateTask creates a task and allocates its per-board number. Number
// allocation and the insert happen in one transaction; SQLite serializes
// writers, so concurrent creates on the same board never share a number.
func (s *Store) CreateTask(t *board.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRow(`
		UPDATE boards SET next_task_number = next_task_number + 1, updated_at = ?
		WHERE id = ? RETURNING next_task_number
	`, now, t.BoardID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to allocate task number: %w", err)
	}
	t.Number = next - 1

	_, err = tx.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BoardID, t.ColumnID, t.Number, t.Position, t.Title, t.Description,
		t.Priority, nullTime(t.DueDate), t.EffortEstimate, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID, including assignees and labels.
func (s *Store) GetTask(id string) (*board.Task, bool) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, false
	}
	s.loadTaskRelations(t)
	return t, true
}

// GetTaskByNumber resolves a task by its per-board number within a team.
// Used by auto-linking, where "PB-42" is looked up across the boards of the
// linked project's owning team. The oldest board wins if numbers collide.
func (s *Store) GetTaskByNumber(teamID string, number int) (*board.Task, bool) {
	row := s.db.QueryRow(`
		SELECT t.id, t.board_id, t.column_id, t.task_number, t.position, t.title, t.description,
			t.priority, t.due_date, t.effort_estimate, t.created_by, t.created_at, t.updated_at
		FROM tasks t
		JOIN boards b ON b.id = t.board_id
		WHERE b.team_id = ? AND t.task_number = ?
		ORDER BY b.created_at
		LIMIT 1
	`, teamID, number)
	t, err := scanTask(row)
	if err != nil {
		return nil, false
	}
	s.loadTaskRelations(t)
	return t, true
}

// GetTasksByColumn retrieves tasks in a column in display order.
func (s *Store) GetTasksByColumn(columnID string) ([]board.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE column_id = ? ORDER BY position, created_at
	`, columnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []board.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MoveTask moves a task to another column. Column/board consistency is
// checked by the caller; the store only records placement.
func (s *Store) MoveTask(taskID, columnID string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET column_id = ?, updated_at = ? WHERE id = ?
	`, columnID, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to move task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}
	return nil
}

// UpdateTaskField updates one automation-writable task field.
func (s *Store) UpdateTaskField(taskID, field string, value any) error {
	now := time.Now().UTC()
	var err error
	switch field {
	case "priority":
		_, err = s.db.Exec(`UPDATE tasks SET priority = ?, updated_at = ? WHERE id = ?`,
			value, now, taskID)
	case "due_date":
		// A new due date re-arms the due-date trigger.
		_, err = s.db.Exec(`UPDATE tasks SET due_date = ?, due_notified = 0, updated_at = ? WHERE id = ?`,
			value, now, taskID)
	case "effort_estimate":
		_, err = s.db.Exec(`UPDATE tasks SET effort_estimate = ?, updated_at = ? WHERE id = ?`,
			value, now, taskID)
	default:
		return fmt.Errorf("field %q is not updatable", field)
	}
	if err != nil {
		return fmt.Errorf("failed to update task field %s: %w", field, err)
	}
	return nil
}

// GetDueTasks retrieves tasks whose due date has passed and whose due-date
// trigger has not fired yet, oldest due date first.
func (s *Store) GetDueTasks(cutoff time.Time) ([]board.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE due_date IS NOT NULL AND due_date <= ? AND due_notified = 0
		ORDER BY due_date
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []board.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MarkDueDateNotified records that the due-date trigger fired for the
// task's current due date.
func (s *Store) MarkDueDateNotified(taskID string) error {
	_, err := s.db.Exec(`UPDATE tasks SET due_notified = 1 WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark due date notified: %w", err)
	}
	return nil
}

// AssignUser attaches a user to a task. Returns false if already assigned.
func (s *Store) AssignUser(taskID, userID, assignedBy string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO task_assignees (task_id, user_id, assigned_by, assigned_at)
		VALUES (?, ?, ?, ?)
	`, taskID, userID, assignedBy, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to assign user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Label Operations ---

// CreateLabel creates a board-scoped label.
func (s *Store) CreateLabel(l *board.Label) error {
	_, err := s.db.Exec(`
		INSERT INTO labels (id, board_id, name, color) VALUES (?, ?, ?, ?)
	`, l.ID, l.BoardID, l.Name, l.Color)
	if err != nil {
		return fmt.Errorf("failed to create label: %w", err)
	}
	return nil
}

// GetLabel retrieves a label by ID.
func (s *Store) GetLabel(id string) (*board.Label, bool) {
	var l board.Label
	err := s.db.QueryRow(`
		SELECT id, board_id, name, color FROM labels WHERE id = ?
	`, id).Scan(&l.ID, &l.BoardID, &l.Name, &l.Color)
	if err != nil {
		return nil, false
	}
	return &l, true
}

// AddLabel attaches a label to a task. Returns false if already present.
func (s *Store) AddLabel(taskID, labelID string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO task_labels (task_id, label_id) VALUES (?, ?)
	`, taskID, labelID)
	if err != nil {
		return false, fmt.Errorf("failed to add label: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Dependency Operations ---

// CreateDependency adds a directed dependency edge (taskID depends on
// dependsOnID). Rejects duplicate edges and edges that would form a cycle,
// determined by a BFS from dependsOnID back towards taskID.
func (s *Store) CreateDependency(taskID, dependsOnID, actor string) error {
	if taskID == dependsOnID {
		return board.ErrCircularDependency{TaskID: taskID, DependsOnID: dependsOnID}
	}

	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?
	`, taskID, dependsOnID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check dependency: %w", err)
	}
	if exists > 0 {
		return board.ErrDependencyExists{TaskID: taskID, DependsOnID: dependsOnID}
	}

	reachable, err := s.dependencyReaches(dependsOnID, taskID)
	if err != nil {
		return err
	}
	if reachable {
		return board.ErrCircularDependency{TaskID: taskID, DependsOnID: dependsOnID}
	}

	_, err = s.db.Exec(`
		INSERT INTO task_dependencies (task_id, depends_on_id, created_by, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, dependsOnID, actor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create dependency: %w", err)
	}
	return nil
}

// dependencyReaches reports whether target is reachable from start by
// following depends_on edges (BFS).
func (s *Store) dependencyReaches(start, target string) (bool, error) {
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rows, err := s.db.Query(`
			SELECT depends_on_id FROM task_dependencies WHERE task_id = ?
		`, current)
		if err != nil {
			return false, fmt.Errorf("failed to walk dependencies: %w", err)
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, fmt.Errorf("failed to scan dependency: %w", err)
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}

		for _, id := range next {
			if id == target {
				return true, nil
			}
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	return false, nil
}

// GetDependencies retrieves the dependency edges originating at a task.
func (s *Store) GetDependencies(taskID string) ([]board.TaskDependency, error) {
	rows, err := s.db.Query(`
		SELECT task_id, depends_on_id, created_by, created_at
		FROM task_dependencies WHERE task_id = ? ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []board.TaskDependency
	for rows.Next() {
		var d board.TaskDependency
		var createdBy sql.NullString
		if err := rows.Scan(&d.TaskID, &d.DependsOnID, &createdBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		d.CreatedBy = createdBy.String
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// --- Comment Operations ---

// CreateComment adds a comment to a task.
func (s *Store) CreateComment(c *board.Comment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO task_comments (id, task_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// GetComments retrieves a task's comments oldest first.
func (s *Store) GetComments(taskID string) ([]board.Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, author_id, body, created_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []board.Comment
	for rows.Next() {
		var c board.Comment
		var author sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.AuthorID = author.String
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*board.Task, error) {
	var t board.Task
	var desc, createdBy sql.NullString
	var due sql.NullTime
	err := row.Scan(&t.ID, &t.BoardID, &t.ColumnID, &t.Number, &t.Position, &t.Title, &desc,
		&t.Priority, &due, &t.EffortEstimate, &createdBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.CreatedBy = createdBy.String
	t.DueDate = scanNullTime(due)
	return &t, nil
}

func scanTaskRows(rows *sql.Rows) (*board.Task, error) {
	t, err := scanTask(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return t, nil
}

// loadTaskRelations populates assignees and labels. Failures leave the
// slices empty; relations are supplementary on fetch.
func (s *Store) loadTaskRelations(t *board.Task) {
	rows, err := s.db.Query(`
		SELECT task_id, user_id, assigned_by, assigned_at
		FROM task_assignees WHERE task_id = ? ORDER BY assigned_at
	`, t.ID)
	if err == nil {
		for rows.Next() {
			var a board.TaskAssignee
			var by sql.NullString
			if err := rows.Scan(&a.TaskID, &a.UserID, &by, &a.AssignedAt); err == nil {
				a.AssignedBy = by.String
				t.Assignees = append(t.Assignees, a)
			}
		}
		rows.Close()
	}

	rows, err = s.db.Query(`
		SELECT l.id, l.board_id, l.name, l.color
		FROM labels l
		JOIN task_labels tl ON tl.label_id = l.id
		WHERE tl.task_id = ? ORDER BY l.name
	`, t.ID)
	if err == nil {
		for rows.Next() {
			var l board.Label
			if err := rows.Scan(&l.ID, &l.BoardID, &l.Name, &l.Color); err == nil {
				t.Labels = append(t.Labels, l)
			}
		}
		rows.Close()
	}
}
