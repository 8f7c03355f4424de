package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/board"
)

// apiGetBoards lists a team's boards.
func (s *Server) apiGetBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.store.GetBoardsByTeam(chi.URLParam(r, "teamID"))
	if err != nil {
		s.jsonError(w, "Failed to get boards", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"boards": boards})
}

// apiGetBoard returns the full board state as JSON: columns with their
// tasks, plus the board's automation rules.
func (s *Server) apiGetBoard(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	b, found := s.store.GetBoard(boardID)
	if !found {
		s.jsonError(w, "Board not found", http.StatusNotFound)
		return
	}

	columns, err := s.store.GetColumnsByBoard(boardID)
	if err != nil {
		s.jsonError(w, "Failed to get columns", http.StatusInternalServerError)
		return
	}

	type columnState struct {
		board.Column
		Tasks []board.Task `json:"tasks"`
	}
	state := make([]columnState, 0, len(columns))
	for _, col := range columns {
		tasks, err := s.store.GetTasksByColumn(col.ID)
		if err != nil {
			s.jsonError(w, "Failed to get tasks", http.StatusInternalServerError)
			return
		}
		state = append(state, columnState{Column: col, Tasks: tasks})
	}

	rules, err := s.store.GetRulesByBoard(boardID)
	if err != nil {
		s.jsonError(w, "Failed to get rules", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"board":     b,
		"columns":   state,
		"rules":     rules,
		"updatedAt": time.Now(),
	})
}

// CreateTaskRequest is the request body for creating a task.
type CreateTaskRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ColumnID       string     `json:"columnId"`
	Priority       string     `json:"priority"`
	DueDate        *time.Time `json:"dueDate"`
	EffortEstimate int        `json:"effortEstimate"`
	CreatedBy      string     `json:"createdBy"`
}

// apiCreateTask creates a new task on a board. The per-board task number is
// allocated inside the store's transaction.
func (s *Server) apiCreateTask(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	if _, found := s.store.GetBoard(boardID); !found {
		s.jsonError(w, "Board not found", http.StatusNotFound)
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.jsonError(w, "Title is required", http.StatusBadRequest)
		return
	}

	columnID := req.ColumnID
	if columnID == "" {
		// Default to the board's first column
		columns, err := s.store.GetColumnsByBoard(boardID)
		if err != nil || len(columns) == 0 {
			s.jsonError(w, "Board has no columns", http.StatusBadRequest)
			return
		}
		columnID = columns[0].ID
	} else {
		col, found := s.store.GetColumn(columnID)
		if !found || col.BoardID != boardID {
			s.jsonError(w, "Column not found on board", http.StatusBadRequest)
			return
		}
	}

	if req.Priority == "" {
		req.Priority = "medium"
	}

	task := &board.Task{
		ID:             uuid.New().String(),
		BoardID:        boardID,
		ColumnID:       columnID,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		DueDate:        req.DueDate,
		EffortEstimate: req.EffortEstimate,
		CreatedBy:      req.CreatedBy,
	}

	if err := s.store.CreateTask(task); err != nil {
		s.logger.Error("Failed to create task", "error", err)
		s.jsonError(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	s.hub.BroadcastToBoard(boardID, board.TaskEvent(board.EventTaskCreated, task.ID, req.CreatedBy, map[string]any{
		"ref":       task.Ref(),
		"column_id": columnID,
	}))
	s.engine.Dispatch(boardID, board.TriggerEvent{
		Type:       board.TriggerTaskCreated,
		TaskID:     task.ID,
		ToColumnID: columnID,
		UserID:     req.CreatedBy,
	})

	s.jsonResponse(w, task)
}

// apiGetTask returns a single task with its relations, external links, and
// the description rendered to HTML.
func (s *Server) apiGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, found := s.store.GetTask(id)
	if !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	links, err := s.store.GetLinksByTask(id)
	if err != nil {
		s.jsonError(w, "Failed to get links", http.StatusInternalServerError)
		return
	}
	comments, err := s.store.GetComments(id)
	if err != nil {
		s.jsonError(w, "Failed to get comments", http.StatusInternalServerError)
		return
	}
	deps, err := s.store.GetDependencies(id)
	if err != nil {
		s.jsonError(w, "Failed to get dependencies", http.StatusInternalServerError)
		return
	}

	var rendered bytes.Buffer
	if err := s.markdown.Convert([]byte(task.Description), &rendered); err != nil {
		s.logger.Error("Failed to render description", "task", id, "error", err)
	}

	s.jsonResponse(w, map[string]interface{}{
		"task":            task,
		"descriptionHtml": rendered.String(),
		"links":           links,
		"comments":        comments,
		"dependencies":    deps,
	})
}

// MoveTaskRequest is the request body for moving a task between columns.
type MoveTaskRequest struct {
	ColumnID string `json:"columnId"`
	Actor    string `json:"actor"`
}

// apiMoveTask moves a task to another column on the same board.
func (s *Server) apiMoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, found := s.store.GetTask(id)
	if !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	var req MoveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	col, found := s.store.GetColumn(req.ColumnID)
	if !found || col.BoardID != task.BoardID {
		s.jsonError(w, "Column not found on board", http.StatusBadRequest)
		return
	}
	if req.ColumnID == task.ColumnID {
		s.jsonResponse(w, task)
		return
	}

	fromColumnID := task.ColumnID
	if err := s.store.MoveTask(id, req.ColumnID); err != nil {
		s.logger.Error("Failed to move task", "task", id, "error", err)
		s.jsonError(w, "Failed to move task", http.StatusInternalServerError)
		return
	}
	task.ColumnID = req.ColumnID

	s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventTaskMoved, id, req.Actor, map[string]any{
		"from_column_id": fromColumnID,
		"to_column_id":   req.ColumnID,
	}))
	s.engine.Dispatch(task.BoardID, board.TriggerEvent{
		Type:         board.TriggerTaskMoved,
		TaskID:       id,
		FromColumnID: fromColumnID,
		ToColumnID:   req.ColumnID,
		UserID:       req.Actor,
	})

	s.jsonResponse(w, task)
}

// AssignUserRequest is the request body for assigning a user to a task.
type AssignUserRequest struct {
	UserID string `json:"userId"`
	Actor  string `json:"actor"`
}

// apiAssignUser assigns a user to a task. Re-assigning is a no-op.
func (s *Server) apiAssignUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, found := s.store.GetTask(id)
	if !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	var req AssignUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, found := s.store.GetUser(req.UserID); !found {
		s.jsonError(w, "User not found", http.StatusBadRequest)
		return
	}

	added, err := s.store.AssignUser(id, req.UserID, req.Actor)
	if err != nil {
		s.logger.Error("Failed to assign user", "task", id, "error", err)
		s.jsonError(w, "Failed to assign user", http.StatusInternalServerError)
		return
	}

	if added {
		s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventTaskAssigned, id, req.Actor, map[string]any{
			"assignee_id": req.UserID,
		}))
		s.engine.Dispatch(task.BoardID, board.TriggerEvent{
			Type:   board.TriggerTaskAssigned,
			TaskID: id,
			UserID: req.UserID,
		})
	}

	s.jsonResponse(w, map[string]interface{}{"assigned": added})
}

// AddLabelRequest is the request body for attaching a label to a task.
type AddLabelRequest struct {
	LabelID string `json:"labelId"`
	Actor   string `json:"actor"`
}

// apiAddLabel attaches a label to a task. Re-adding is a no-op.
func (s *Server) apiAddLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, found := s.store.GetTask(id)
	if !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	var req AddLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	label, found := s.store.GetLabel(req.LabelID)
	if !found || label.BoardID != task.BoardID {
		s.jsonError(w, "Label not found on board", http.StatusBadRequest)
		return
	}

	added, err := s.store.AddLabel(id, req.LabelID)
	if err != nil {
		s.logger.Error("Failed to add label", "task", id, "error", err)
		s.jsonError(w, "Failed to add label", http.StatusInternalServerError)
		return
	}

	if added {
		s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventLabelAdded, id, req.Actor, map[string]any{
			"label_id": req.LabelID,
		}))
		s.engine.Dispatch(task.BoardID, board.TriggerEvent{
			Type:    board.TriggerLabelAdded,
			TaskID:  id,
			LabelID: req.LabelID,
		})
	}

	s.jsonResponse(w, map[string]interface{}{"added": added})
}

// CreateCommentRequest is the request body for commenting on a task.
type CreateCommentRequest struct {
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
}

// apiCreateComment adds a comment to a task.
func (s *Server) apiCreateComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetTask(id); !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		s.jsonError(w, "Comment body is required", http.StatusBadRequest)
		return
	}

	comment := &board.Comment{
		ID:       uuid.New().String(),
		TaskID:   id,
		AuthorID: req.AuthorID,
		Body:     req.Body,
	}
	if err := s.store.CreateComment(comment); err != nil {
		s.logger.Error("Failed to create comment", "task", id, "error", err)
		s.jsonError(w, "Failed to create comment", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, comment)
}

// apiGetDependencies lists a task's dependency edges.
func (s *Server) apiGetDependencies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetTask(id); !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	deps, err := s.store.GetDependencies(id)
	if err != nil {
		s.jsonError(w, "Failed to get dependencies", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, deps)
}

// CreateDependencyRequest is the request body for adding a dependency edge.
type CreateDependencyRequest struct {
	DependsOnID string `json:"dependsOnId"`
	Actor       string `json:"actor"`
}

// apiCreateDependency records that a task depends on another. Duplicate and
// cycle-forming edges are rejected with a client error.
func (s *Server) apiCreateDependency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, found := s.store.GetTask(id)
	if !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	var req CreateDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, found := s.store.GetTask(req.DependsOnID); !found {
		s.jsonError(w, "Dependency task not found", http.StatusBadRequest)
		return
	}

	err := s.store.CreateDependency(id, req.DependsOnID, req.Actor)
	var circular board.ErrCircularDependency
	var exists board.ErrDependencyExists
	switch {
	case errors.As(err, &circular):
		s.jsonError(w, "Dependency would create a cycle", http.StatusConflict)
		return
	case errors.As(err, &exists):
		s.jsonError(w, "Dependency already exists", http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("Failed to create dependency", "task", id, "error", err)
		s.jsonError(w, "Failed to create dependency", http.StatusInternalServerError)
		return
	}

	s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventDependencyAdded, id, req.Actor, map[string]any{
		"depends_on_id": req.DependsOnID,
	}))

	s.jsonResponse(w, map[string]interface{}{"taskId": id, "dependsOnId": req.DependsOnID})
}

// apiGetTaskLinks lists a task's GitLab associations.
func (s *Server) apiGetTaskLinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetTask(id); !found {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	links, err := s.store.GetLinksByTask(id)
	if err != nil {
		s.jsonError(w, "Failed to get links", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, links)
}

// apiDeleteLink removes a task's GitLab association.
func (s *Server) apiDeleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetExternalLink(id); !found {
		s.jsonError(w, "Link not found", http.StatusNotFound)
		return
	}

	if err := s.store.DeleteExternalLink(id); err != nil {
		s.logger.Error("Failed to delete link", "link", id, "error", err)
		s.jsonError(w, "Failed to delete link", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"message": "link deleted"})
}
