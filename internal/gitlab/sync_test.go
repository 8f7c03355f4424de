package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

// fakeGitLab serves merge request and pipeline endpoints. IIDs listed in
// failing get a 500 on every attempt.
func fakeGitLab(t *testing.T, failing ...string) *httptest.Server {
	t.Helper()
	fails := make(map[string]bool)
	for _, iid := range failing {
		fails[iid] = true
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/merge_requests/"):
			iid := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			if fails[iid] {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{
				"iid": ` + iid + `,
				"title": "Refreshed title",
				"state": "merged",
				"web_url": "https://gitlab.example.com/mr/` + iid + `",
				"source_branch": "feature/x",
				"author": {"name": "Dana"}
			}`))
		case strings.Contains(r.URL.Path, "/pipelines"):
			w.Write([]byte(`[{"id": 1, "status": "success", "ref": "feature/x"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSyncerRun(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 1)

	srv := fakeGitLab(t, "2")
	defer srv.Close()

	for i, id := range []string{"link-1", "link-2", "link-3"} {
		link := &board.TaskExternalLink{
			ID: id, TaskID: f.Tasks[0].ID, ProjectID: f.Project.ID,
			LinkType: board.LinkMergeRequest, RemoteIID: int64(i + 1),
			Ref: "feature/x", Title: "Stale", State: "opened",
		}
		if err := store.CreateExternalLink(link); err != nil {
			t.Fatalf("failed to create link: %v", err)
		}
	}

	factory := func(baseURL, token string) *Client {
		if baseURL != f.Connection.BaseURL {
			t.Errorf("got base URL %s, want %s", baseURL, f.Connection.BaseURL)
		}
		if token != f.Connection.Token {
			t.Errorf("factory got wrong token")
		}
		return fastClient(srv.URL)
	}

	syncer := NewSyncer(store, factory, time.Minute, 100, testLogger())
	report := syncer.Run(context.Background())

	if report.Synced != 2 {
		t.Errorf("got %d synced, want 2", report.Synced)
	}
	if report.Errors != 1 {
		t.Errorf("got %d errors, want 1", report.Errors)
	}

	// Synced rows carry refreshed fields and a sync stamp
	got, _ := store.GetExternalLink("link-1")
	if got.Title != "Refreshed title" || got.State != "merged" {
		t.Errorf("link-1 not refreshed: %+v", got)
	}
	if got.LastSyncedAt == nil {
		t.Error("link-1 missing sync stamp")
	}
	if got.PipelineStatus != "success" {
		t.Errorf("got pipeline status %s, want success", got.PipelineStatus)
	}

	// The failed row stays stale and eligible for the next run
	got, _ = store.GetExternalLink("link-2")
	if got.Title != "Stale" {
		t.Errorf("link-2 unexpectedly refreshed: %+v", got)
	}
	if got.LastSyncedAt != nil {
		t.Error("link-2 should keep a NULL sync stamp")
	}
}

func TestSyncerBatchLimit(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 1)

	srv := fakeGitLab(t)
	defer srv.Close()

	for i := 1; i <= 5; i++ {
		link := &board.TaskExternalLink{
			ID: fmt.Sprintf("link-%d", i), TaskID: f.Tasks[0].ID, ProjectID: f.Project.ID,
			LinkType: board.LinkMergeRequest, RemoteIID: int64(i),
			Ref: "feature/x", Title: "Stale",
		}
		if err := store.CreateExternalLink(link); err != nil {
			t.Fatalf("failed to create link: %v", err)
		}
	}

	factory := func(string, string) *Client { return fastClient(srv.URL) }
	syncer := NewSyncer(store, factory, time.Minute, 2, testLogger())

	report := syncer.Run(context.Background())
	if report.Synced != 2 || report.Errors != 0 {
		t.Errorf("got %+v, want 2 synced 0 errors", report)
	}

	// Next run picks up the remainder
	report = syncer.Run(context.Background())
	if report.Synced != 2 {
		t.Errorf("second run got %d synced, want 2", report.Synced)
	}
}

func TestSyncerSkipsFreshLinks(t *testing.T) {
	store := newTestStore(t)
	f := seedFixture(t, store, 1)

	srv := fakeGitLab(t)
	defer srv.Close()

	now := time.Now().UTC()
	link := &board.TaskExternalLink{
		ID: "link-fresh", TaskID: f.Tasks[0].ID, ProjectID: f.Project.ID,
		LinkType: board.LinkMergeRequest, RemoteIID: 1,
		Ref: "feature/x", Title: "Fresh", LastSyncedAt: &now,
	}
	if err := store.CreateExternalLink(link); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	factory := func(string, string) *Client { return fastClient(srv.URL) }
	syncer := NewSyncer(store, factory, time.Hour, 100, testLogger())

	report := syncer.Run(context.Background())
	if report.Synced != 0 || report.Errors != 0 {
		t.Errorf("got %+v, want empty report for fresh links", report)
	}
}
