package gitlab

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pulseboard/pulseboard/board"
	"github.com/pulseboard/pulseboard/internal/db"
)

// --- Test Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return db.NewStore(database)
}

// seedFixture creates a team, a board with one column, numbered tasks, and a
// connection with one linked project.
type fixture struct {
	Team       *board.Team
	Board      *board.Board
	Column     *board.Column
	Tasks      []*board.Task
	Connection *board.ExternalConnection
	Project    *board.LinkedProject
}

func seedFixture(t *testing.T, s *db.Store, taskCount int) *fixture {
	t.Helper()

	f := &fixture{
		Team:   &board.Team{ID: "team-1", Name: "Acme", Slug: "acme"},
		Board:  &board.Board{ID: "board-1", TeamID: "team-1", Name: "Main"},
		Column: &board.Column{ID: "col-1", BoardID: "board-1", Name: "To Do"},
		Connection: &board.ExternalConnection{
			ID: "conn-1", TeamID: "team-1", Name: "GitLab",
			BaseURL: "https://gitlab.example.com", Token: "tok", WebhookSecret: "hook-secret",
		},
		Project: &board.LinkedProject{
			ID: "proj-1", ConnectionID: "conn-1", TeamID: "team-1",
			RemoteProjectID: 42, Name: "backend", DefaultBranch: "main",
		},
	}
	if err := s.CreateTeam(f.Team); err != nil {
		t.Fatalf("failed to create team: %v", err)
	}
	if err := s.CreateBoard(f.Board); err != nil {
		t.Fatalf("failed to create board: %v", err)
	}
	if err := s.CreateColumn(f.Column); err != nil {
		t.Fatalf("failed to create column: %v", err)
	}
	for i := 1; i <= taskCount; i++ {
		task := &board.Task{
			ID: fmt.Sprintf("task-%d", i), BoardID: f.Board.ID, ColumnID: f.Column.ID,
			Title: "Task", Priority: "medium",
		}
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
		f.Tasks = append(f.Tasks, task)
	}
	if err := s.CreateConnection(f.Connection); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	if err := s.CreateLinkedProject(f.Project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return f
}

// --- Tests ---

func TestAutoLinkFromText(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 3)

	r, err := NewReconciler(s, "", testLogger())
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}

	in := LinkInput{
		Project:   f.Project,
		Text:      "Fixes PB-1 and pb-3, see also PB-1 again and PB-99",
		LinkType:  board.LinkMergeRequest,
		RemoteIID: 7,
		Ref:       "feature/pb-1",
		Title:     "Fix things",
		State:     "opened",
	}

	created, err := r.AutoLink(in)
	if err != nil {
		t.Fatalf("autolink failed: %v", err)
	}
	// PB-1 and PB-3 resolve; duplicate mention and the unknown PB-99 do not
	if len(created) != 2 {
		t.Fatalf("got %d links, want 2", len(created))
	}
	if created[0].TaskID != f.Tasks[0].ID || created[1].TaskID != f.Tasks[2].ID {
		t.Errorf("linked wrong tasks: %s, %s", created[0].TaskID, created[1].TaskID)
	}
	if created[0].Title != "Fix things" || created[0].RemoteIID != 7 {
		t.Errorf("cached fields not set: %+v", created[0])
	}

	// Webhook replay: same input creates nothing new
	created, err = r.AutoLink(in)
	if err != nil {
		t.Fatalf("autolink replay failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("replay created %d links, want 0", len(created))
	}

	links, err := s.GetLinksByTask(f.Tasks[0].ID)
	if err != nil {
		t.Fatalf("failed to get links: %v", err)
	}
	if len(links) != 1 {
		t.Errorf("got %d links on task, want 1", len(links))
	}
}

func TestAutoLinkBranch(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 1)

	r, err := NewReconciler(s, "", testLogger())
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}

	in := LinkInput{
		Project:  f.Project,
		Text:     "feature/PB-1-login",
		LinkType: board.LinkBranch,
		Ref:      "feature/PB-1-login",
		Title:    "feature/PB-1-login",
	}
	created, err := r.AutoLink(in)
	if err != nil {
		t.Fatalf("autolink failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("got %d links, want 1", len(created))
	}
	if created[0].LinkType != board.LinkBranch || created[0].Ref != "feature/PB-1-login" {
		t.Errorf("unexpected link: %+v", created[0])
	}

	// Same branch pushed again
	created, _ = r.AutoLink(in)
	if len(created) != 0 {
		t.Errorf("repeat push created %d links, want 0", len(created))
	}
}

func TestAutoLinkNoReferences(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 1)

	r, _ := NewReconciler(s, "", testLogger())
	created, err := r.AutoLink(LinkInput{
		Project:  f.Project,
		Text:     "chore: bump dependencies",
		LinkType: board.LinkMergeRequest, RemoteIID: 1,
	})
	if err != nil {
		t.Fatalf("autolink failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("got %d links, want 0", len(created))
	}
}

func TestNewReconcilerPattern(t *testing.T) {
	s := newTestStore(t)

	if _, err := NewReconciler(s, "(", testLogger()); err == nil {
		t.Error("expected error for invalid regex")
	}
	if _, err := NewReconciler(s, `TASK-\d+`, testLogger()); err == nil {
		t.Error("expected error for pattern without capture group")
	}

	// Custom pattern with a capture group works
	r, err := NewReconciler(s, `TASK-(\d+)`, testLogger())
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}
	f := seedFixture(t, s, 1)
	created, err := r.AutoLink(LinkInput{
		Project:  f.Project,
		Text:     "Implements TASK-1, ignores PB-1",
		LinkType: board.LinkMergeRequest, RemoteIID: 2,
	})
	if err != nil {
		t.Fatalf("autolink failed: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("got %d links, want 1", len(created))
	}
}
