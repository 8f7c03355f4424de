package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulseboard/pulseboard/board"
	"github.com/pulseboard/pulseboard/internal/gitlab"
)

// GitLab webhook event kinds, carried in the X-Gitlab-Event header.
const (
	eventMergeRequest = "Merge Request Hook"
	eventPipeline     = "Pipeline Hook"
	eventPush         = "Push Hook"
)

// webhookPayload is the subset of GitLab's webhook body the handler reads.
type webhookPayload struct {
	ObjectKind string `json:"object_kind"`
	Ref        string `json:"ref"` // push events: refs/heads/<branch>

	Project struct {
		ID int64 `json:"id"`
	} `json:"project"`

	User struct {
		Name string `json:"name"`
	} `json:"user"`

	ObjectAttributes struct {
		IID          int64  `json:"iid"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		State        string `json:"state"`
		Action       string `json:"action"`
		URL          string `json:"url"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`

		// Pipeline events
		Status string `json:"status"`
		Ref    string `json:"ref"`
	} `json:"object_attributes"`
}

// handleWebhook validates and dispatches an inbound GitLab notification.
// Everything past authentication and payload shape acknowledges with 200,
// including unlinked projects and unknown event kinds, so GitLab never
// retries events we deliberately ignore.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	connID := chi.URLParam(r, "connectionID")
	conn, found := s.store.GetConnection(connID)
	if !found {
		s.jsonError(w, "Unknown connection", http.StatusNotFound)
		return
	}

	token := r.Header.Get("X-Gitlab-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(conn.WebhookSecret)) != 1 {
		s.jsonError(w, "Invalid webhook token", http.StatusForbidden)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.jsonError(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Project.ID == 0 {
		s.jsonError(w, "Payload missing project id", http.StatusBadRequest)
		return
	}

	project, found := s.store.GetProjectByRemoteID(conn.ID, payload.Project.ID)
	if !found {
		// Intentionally-unlinked project: acknowledge, do nothing.
		s.jsonResponse(w, map[string]string{"message": "project not linked"})
		return
	}

	event := r.Header.Get("X-Gitlab-Event")
	switch event {
	case eventMergeRequest:
		s.handleMergeRequestEvent(w, project, &payload)
	case eventPipeline:
		s.handlePipelineEvent(w, project, &payload)
	case eventPush:
		s.handlePushEvent(w, project, &payload)
	default:
		s.logger.Info("ignoring webhook event", "event", event, "project", project.Name)
		s.jsonResponse(w, map[string]string{"message": "event ignored"})
	}
}

// handleMergeRequestEvent auto-links new task references, refreshes every
// existing association for the merge request, and broadcasts per task.
func (s *Server) handleMergeRequestEvent(w http.ResponseWriter, project *board.LinkedProject, payload *webhookPayload) {
	attrs := &payload.ObjectAttributes

	// Title, description, and source branch can all carry references.
	searchText := strings.Join([]string{attrs.Title, attrs.Description, attrs.SourceBranch}, "\n")
	created, err := s.reconciler.AutoLink(gitlab.LinkInput{
		Project:   project,
		Text:      searchText,
		LinkType:  board.LinkMergeRequest,
		RemoteIID: attrs.IID,
		Ref:       attrs.SourceBranch,
		Title:     attrs.Title,
		State:     attrs.State,
		URL:       attrs.URL,
		Author:    payload.User.Name,
		Meta:      map[string]string{"target_branch": attrs.TargetBranch},
	})
	if err != nil {
		s.logger.Error("webhook: auto-link failed", "project", project.Name, "iid", attrs.IID, "error", err)
	}

	links, err := s.store.GetMergeRequestLinks(project.ID, attrs.IID)
	if err != nil {
		s.logger.Error("webhook: failed to load links", "project", project.Name, "iid", attrs.IID, "error", err)
		s.jsonResponse(w, map[string]string{"message": "merge request processed"})
		return
	}

	action := mrEventAction(attrs.Action, attrs.State)
	now := time.Now().UTC()
	for _, link := range links {
		prevState := link.State
		meta := link.Meta
		if meta == nil {
			meta = map[string]string{}
		}
		meta["target_branch"] = attrs.TargetBranch
		if err := s.store.RefreshLink(link.ID, attrs.Title, attrs.State, attrs.URL, payload.User.Name, attrs.SourceBranch, meta, now); err != nil {
			s.logger.Error("webhook: failed to refresh link", "link", link.ID, "error", err)
			continue
		}

		task, found := s.store.GetTask(link.TaskID)
		if !found {
			continue
		}

		// Merged/closed are transitions. A redelivery whose state the link
		// already recorded is a plain update and must not re-fire rules.
		linkAction := action
		if (action == board.EventMRMerged || action == board.EventMRClosed) && prevState == attrs.State {
			linkAction = board.EventMRUpdated
		}
		s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(linkAction, task.ID, board.SystemActor, map[string]any{
			"merge_request_iid": attrs.IID,
			"state":             attrs.State,
			"url":               attrs.URL,
		}))

		if linkAction == board.EventMRMerged {
			s.engine.Dispatch(task.BoardID, board.TriggerEvent{
				Type:   board.TriggerMRMerged,
				TaskID: task.ID,
			})
		}
	}

	s.jsonResponse(w, map[string]any{
		"message":   "merge request processed",
		"created":   len(created),
		"refreshed": len(links),
	})
}

// mrEventAction picks the broadcast action for a merge request event:
// action-specific on merge/close transitions, generic otherwise.
func mrEventAction(action, state string) string {
	switch {
	case action == "merge" || state == "merged":
		return board.EventMRMerged
	case action == "close" || state == "closed":
		return board.EventMRClosed
	case action == "open":
		return board.EventMRCreated
	default:
		return board.EventMRUpdated
	}
}

// handlePipelineEvent refreshes pipeline status on every association with
// the pipeline's (project, ref) pair and broadcasts one update per task.
func (s *Server) handlePipelineEvent(w http.ResponseWriter, project *board.LinkedProject, payload *webhookPayload) {
	attrs := &payload.ObjectAttributes
	if attrs.Ref == "" {
		s.jsonResponse(w, map[string]string{"message": "pipeline without ref ignored"})
		return
	}

	links, err := s.store.GetLinksByRef(project.ID, attrs.Ref)
	if err != nil {
		s.logger.Error("webhook: failed to load links", "project", project.Name, "ref", attrs.Ref, "error", err)
		s.jsonResponse(w, map[string]string{"message": "pipeline processed"})
		return
	}

	// A task commonly holds several links on one ref (the branch plus the
	// merge request from it). Update every link row, but notify per task.
	updated := 0
	seen := make(map[string]bool)
	var taskIDs []string
	for _, link := range links {
		if err := s.store.SetLinkPipelineStatus(link.ID, attrs.Status); err != nil {
			s.logger.Error("webhook: failed to set pipeline status", "link", link.ID, "error", err)
			continue
		}
		updated++
		if !seen[link.TaskID] {
			seen[link.TaskID] = true
			taskIDs = append(taskIDs, link.TaskID)
		}
	}

	for _, taskID := range taskIDs {
		task, found := s.store.GetTask(taskID)
		if !found {
			continue
		}
		s.hub.BroadcastToBoard(task.BoardID, board.TaskEvent(board.EventPipelineUpdated, task.ID, board.SystemActor, map[string]any{
			"ref":             attrs.Ref,
			"pipeline_status": attrs.Status,
		}))
		s.engine.Dispatch(task.BoardID, board.TriggerEvent{
			Type:           board.TriggerPipelineStatus,
			TaskID:         task.ID,
			PipelineStatus: attrs.Status,
		})
	}

	s.jsonResponse(w, map[string]any{"message": "pipeline processed", "updated": updated})
}

// handlePushEvent derives the branch name from the ref and auto-links it.
func (s *Server) handlePushEvent(w http.ResponseWriter, project *board.LinkedProject, payload *webhookPayload) {
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == "" {
		s.jsonResponse(w, map[string]string{"message": "push without branch ignored"})
		return
	}

	created, err := s.reconciler.AutoLink(gitlab.LinkInput{
		Project:  project,
		Text:     branch,
		LinkType: board.LinkBranch,
		Ref:      branch,
		Title:    branch,
		URL:      project.WebURL + "/-/tree/" + branch,
		Author:   payload.User.Name,
	})
	if err != nil {
		s.logger.Error("webhook: auto-link failed", "project", project.Name, "branch", branch, "error", err)
	}

	s.jsonResponse(w, map[string]any{"message": "push processed", "created": len(created)})
}
