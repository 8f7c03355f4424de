package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pulseboard/pulseboard/board"
)

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestAPICreateTask(t *testing.T) {
	ts := newTestServer(t)
	ts.seedWebhookFixture(t) // creates PB-1

	resp := ts.postJSON(t, "/api/boards/board-1/tasks", CreateTaskRequest{
		Title:       "Second task",
		Description: "Some **markdown**",
		CreatedBy:   "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var task board.Task
	decodeJSON(t, resp, &task)
	if task.Number != 2 {
		t.Errorf("got number %d, want 2", task.Number)
	}
	if task.ColumnID != "col-1" {
		t.Errorf("task not placed in first column: %s", task.ColumnID)
	}
	if task.Priority != "medium" {
		t.Errorf("got priority %s, want default medium", task.Priority)
	}

	// Missing title is rejected
	resp = ts.postJSON(t, "/api/boards/board-1/tasks", CreateTaskRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestAPIGetTaskRendersMarkdown(t *testing.T) {
	ts := newTestServer(t)
	ts.seedWebhookFixture(t)

	resp := ts.postJSON(t, "/api/boards/board-1/tasks", CreateTaskRequest{
		Title:       "Doc task",
		Description: "Some **bold** text",
	})
	var task board.Task
	decodeJSON(t, resp, &task)

	getResp, err := http.Get(ts.http.URL + "/api/tasks/" + task.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer getResp.Body.Close()

	var detail struct {
		DescriptionHTML string `json:"descriptionHtml"`
	}
	decodeJSON(t, getResp, &detail)
	if detail.DescriptionHTML == "" {
		t.Fatal("description not rendered")
	}
	if want := "<strong>bold</strong>"; !bytes.Contains([]byte(detail.DescriptionHTML), []byte(want)) {
		t.Errorf("rendered html %q missing %q", detail.DescriptionHTML, want)
	}
}

func TestAPICreateRuleValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.seedWebhookFixture(t)

	// Valid rule
	resp := ts.postJSON(t, "/api/boards/board-1/rules", CreateRuleRequest{
		Name:          "Escalate failures",
		TriggerType:   "gitlab_pipeline_status",
		TriggerConfig: map[string]string{"pipeline_status": "failed"},
		ActionType:    "update_field",
		ActionConfig:  map[string]string{"field": "priority", "value": "urgent"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	// Unknown trigger type
	resp = ts.postJSON(t, "/api/boards/board-1/rules", CreateRuleRequest{
		Name: "Bad", TriggerType: "task_teleported", ActionType: "add_label",
		ActionConfig: map[string]string{"label_id": "l1"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown trigger: got status %d, want 400", resp.StatusCode)
	}

	// Action missing its required key
	resp = ts.postJSON(t, "/api/boards/board-1/rules", CreateRuleRequest{
		Name: "Bad", TriggerType: "task_created", ActionType: "move_to_column",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing column_id: got status %d, want 400", resp.StatusCode)
	}
}

func TestAPIDependencyCycleRejected(t *testing.T) {
	ts := newTestServer(t)
	task, _, _ := ts.seedWebhookFixture(t)

	resp := ts.postJSON(t, "/api/boards/board-1/tasks", CreateTaskRequest{Title: "Blocker"})
	var other board.Task
	decodeJSON(t, resp, &other)

	resp = ts.postJSON(t, "/api/tasks/"+task.ID+"/dependencies", CreateDependencyRequest{
		DependsOnID: other.ID, Actor: "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	// Duplicate
	resp = ts.postJSON(t, "/api/tasks/"+task.ID+"/dependencies", CreateDependencyRequest{
		DependsOnID: other.ID, Actor: "user-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate: got status %d, want 409", resp.StatusCode)
	}

	// Reverse edge closes the cycle
	resp = ts.postJSON(t, "/api/tasks/"+other.ID+"/dependencies", CreateDependencyRequest{
		DependsOnID: task.ID, Actor: "user-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cycle: got status %d, want 409", resp.StatusCode)
	}
}

func TestAPIMoveTaskValidatesColumn(t *testing.T) {
	ts := newTestServer(t)
	task, _, _ := ts.seedWebhookFixture(t)

	resp := ts.postJSON(t, "/api/tasks/"+task.ID+"/move", MoveTaskRequest{
		ColumnID: "col-gone", Actor: "user-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}

	done := &board.Column{ID: "col-done", BoardID: task.BoardID, Name: "Done", Position: 1}
	if err := ts.store.CreateColumn(done); err != nil {
		t.Fatalf("failed to create column: %v", err)
	}
	resp = ts.postJSON(t, "/api/tasks/"+task.ID+"/move", MoveTaskRequest{
		ColumnID: done.ID, Actor: "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	got, _ := ts.store.GetTask(task.ID)
	if got.ColumnID != done.ID {
		t.Errorf("task not moved: %s", got.ColumnID)
	}
}
