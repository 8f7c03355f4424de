package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

// ErrLastColumn is returned when deleting the only remaining column of a board.
var ErrLastColumn = errors.New("cannot delete the last column of a board")

// Store implements PulseBoard storage using SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// --- Team Operations ---

// CreateTeam creates a new team.
func (s *Store) CreateTeam(t *board.Team) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO teams (id, name, slug, created_at) VALUES (?, ?, ?, ?)
	`, t.ID, t.Name, t.Slug, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

// GetTeam retrieves a team by ID.
func (s *Store) GetTeam(id string) (*board.Team, bool) {
	var t board.Team
	err := s.db.QueryRow(`
		SELECT id, name, slug, created_at FROM teams WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// --- User Operations ---

// CreateUser creates a new user.
func (s *Store) CreateUser(u *board.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
	`, u.ID, u.Name, u.Email, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id string) (*board.User, bool) {
	var u board.User
	err := s.db.QueryRow(`
		SELECT id, name, email, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, false
	}
	return &u, true
}

// --- Board Operations ---

// CreateBoard creates a new board.
func (s *Store) CreateBoard(b *board.Board) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.NextTaskNumber == 0 {
		b.NextTaskNumber = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO boards (id, team_id, name, next_task_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.TeamID, b.Name, b.NextTaskNumber, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	return nil
}

// GetBoard retrieves a board by ID.
func (s *Store) GetBoard(id string) (*board.Board, bool) {
	var b board.Board
	err := s.db.QueryRow(`
		SELECT id, team_id, name, next_task_number, created_at, updated_at
		FROM boards WHERE id = ?
	`, id).Scan(&b.ID, &b.TeamID, &b.Name, &b.NextTaskNumber, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, false
	}
	return &b, true
}

// GetBoardsByTeam retrieves all boards owned by a team.
func (s *Store) GetBoardsByTeam(teamID string) ([]board.Board, error) {
	rows, err := s.db.Query(`
		SELECT id, team_id, name, next_task_number, created_at, updated_at
		FROM boards WHERE team_id = ? ORDER BY created_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	var boards []board.Board
	for rows.Next() {
		var b board.Board
		if err := rows.Scan(&b.ID, &b.TeamID, &b.Name, &b.NextTaskNumber, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// --- Column Operations ---

// CreateColumn creates a new column on a board.
func (s *Store) CreateColumn(c *board.Column) error {
	_, err := s.db.Exec(`
		INSERT INTO columns (id, board_id, name, position) VALUES (?, ?, ?, ?)
	`, c.ID, c.BoardID, c.Name, c.Position)
	if err != nil {
		return fmt.Errorf("failed to create column: %w", err)
	}
	return nil
}

// GetColumn retrieves a column by ID.
func (s *Store) GetColumn(id string) (*board.Column, bool) {
	var c board.Column
	err := s.db.QueryRow(`
		SELECT id, board_id, name, position FROM columns WHERE id = ?
	`, id).Scan(&c.ID, &c.BoardID, &c.Name, &c.Position)
	if err != nil {
		return nil, false
	}
	return &c, true
}

// GetColumnsByBoard retrieves all columns of a board in display order.
func (s *Store) GetColumnsByBoard(boardID string) ([]board.Column, error) {
	rows, err := s.db.Query(`
		SELECT id, board_id, name, position FROM columns
		WHERE board_id = ? ORDER BY position, name
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var cols []board.Column
	for rows.Next() {
		var c board.Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// DeleteColumn deletes a column. The last column of a board cannot be deleted.
func (s *Store) DeleteColumn(id string) error {
	col, found := s.GetColumn(id)
	if !found {
		return fmt.Errorf("column %s not found", id)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM columns WHERE board_id = ?`, col.BoardID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count columns: %w", err)
	}
	if count <= 1 {
		return ErrLastColumn
	}

	if _, err := s.db.Exec(`DELETE FROM columns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete column: %w", err)
	}
	return nil
}

// nullTime converts an optional time into a driver-friendly value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// scanNullTime converts a nullable column back into *time.Time.
func scanNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
