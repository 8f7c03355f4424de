package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulseboard/pulseboard/board"
)

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func TestLinkProjectRegistersWebhook(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 0)

	var hookURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/projects/99"):
			w.Write([]byte(`{
				"id": 99,
				"path_with_namespace": "acme/frontend",
				"default_branch": "main",
				"web_url": "https://gitlab.example.com/acme/frontend"
			}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/hooks"):
			var body map[string]any
			if err := decodeBody(r, &body); err == nil {
				hookURL, _ = body["url"].(string)
			}
			w.Write([]byte(`{"id": 55, "url": "ignored"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	factory := func(string, string) *Client { return fastClient(srv.URL) }
	svc := NewConnectionService(store, factory, "https://pulse.example.com/webhooks", testLogger())

	project, err := svc.LinkProject(context.Background(), f.Connection, 99)
	if err != nil {
		t.Fatalf("link project failed: %v", err)
	}
	if project.Name != "acme/frontend" || project.RemoteHookID != 55 {
		t.Errorf("unexpected project: %+v", project)
	}
	if want := "https://pulse.example.com/webhooks/" + f.Connection.ID; hookURL != want {
		t.Errorf("got hook url %s, want %s", hookURL, want)
	}

	got, found := store.GetProjectByRemoteID(f.Connection.ID, 99)
	if !found || got.ID != project.ID {
		t.Error("project not persisted")
	}
}

func TestUnlinkProjectSurvivesRemoteFailure(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 0)
	f.Project.RemoteHookID = 55

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	factory := func(string, string) *Client { return fastClient(srv.URL) }
	svc := NewConnectionService(store, factory, "https://pulse.example.com/webhooks", testLogger())

	// Remote hook delete fails, local unlink still happens
	if err := svc.UnlinkProject(context.Background(), f.Project.ID); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if _, found := store.GetLinkedProject(f.Project.ID); found {
		t.Error("project still present after unlink")
	}
}

func TestDisconnectReportsCleanupFailures(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 0)

	// Second project whose hook delete will fail
	bad := &board.LinkedProject{
		ID: "proj-bad", ConnectionID: f.Connection.ID, TeamID: f.Team.ID,
		RemoteProjectID: 66, Name: "acme/legacy", RemoteHookID: 7,
	}
	if err := store.CreateLinkedProject(bad); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/projects/66/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Give the original project a hook so both teardowns run
	f.Project.RemoteHookID = 5
	if err := store.DeleteLinkedProject(f.Project.ID); err != nil {
		t.Fatalf("failed to reset project: %v", err)
	}
	if err := store.CreateLinkedProject(f.Project); err != nil {
		t.Fatalf("failed to recreate project: %v", err)
	}

	factory := func(string, string) *Client { return fastClient(srv.URL) }
	svc := NewConnectionService(store, factory, "https://pulse.example.com/webhooks", testLogger())

	result, err := svc.Disconnect(context.Background(), f.Connection.ID)
	if err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if result.ProjectsRemoved != 2 {
		t.Errorf("got %d projects removed, want 2", result.ProjectsRemoved)
	}
	if result.Clean() {
		t.Error("expected cleanup failures")
	}
	if len(result.CleanupFailures) != 1 || result.CleanupFailures[0].RemoteProjectID != 66 {
		t.Errorf("unexpected failures: %+v", result.CleanupFailures)
	}

	// Local state is gone regardless
	if _, found := store.GetConnection(f.Connection.ID); found {
		t.Error("connection still present after disconnect")
	}
	if _, found := store.GetLinkedProject(bad.ID); found {
		t.Error("linked project still present after disconnect")
	}
}
