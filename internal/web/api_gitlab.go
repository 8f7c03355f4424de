package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/board"
)

// CreateConnectionRequest is the request body for registering a GitLab
// instance for a team.
type CreateConnectionRequest struct {
	TeamID        string `json:"teamId"`
	Name          string `json:"name"`
	BaseURL       string `json:"baseUrl"`
	Token         string `json:"token"`
	WebhookSecret string `json:"webhookSecret"`
}

// apiGetConnections lists a team's GitLab connections. Tokens and
// webhook secrets are never serialized.
func (s *Server) apiGetConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.GetConnectionsByTeam(chi.URLParam(r, "teamID"))
	if err != nil {
		s.jsonError(w, "Failed to get connections", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"connections": conns})
}

// apiCreateConnection stores a new GitLab connection. Credentials are
// verified against the instance before the connection is saved.
func (s *Server) apiCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TeamID == "" || req.BaseURL == "" || req.Token == "" {
		s.jsonError(w, "teamId, baseUrl and token are required", http.StatusBadRequest)
		return
	}
	if _, found := s.store.GetTeam(req.TeamID); !found {
		s.jsonError(w, "Team not found", http.StatusBadRequest)
		return
	}

	conn := &board.ExternalConnection{
		ID:            uuid.New().String(),
		TeamID:        req.TeamID,
		Name:          req.Name,
		BaseURL:       req.BaseURL,
		Token:         req.Token,
		WebhookSecret: req.WebhookSecret,
	}
	if conn.WebhookSecret == "" {
		conn.WebhookSecret = uuid.New().String()
	}

	user, err := s.connections.TestConnection(r.Context(), conn)
	if err != nil {
		s.logger.Error("Connection test failed", "base_url", conn.BaseURL, "error", err)
		s.jsonError(w, "Could not authenticate against GitLab", http.StatusBadGateway)
		return
	}

	if err := s.store.CreateConnection(conn); err != nil {
		s.logger.Error("Failed to create connection", "error", err)
		s.jsonError(w, "Failed to create connection", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"connection": conn,
		"remoteUser": user.Username,
	})
}

// apiTestConnection re-checks a stored connection's credentials.
func (s *Server) apiTestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, found := s.store.GetConnection(id)
	if !found {
		s.jsonError(w, "Connection not found", http.StatusNotFound)
		return
	}

	user, err := s.connections.TestConnection(r.Context(), conn)
	if err != nil {
		s.jsonResponse(w, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	s.jsonResponse(w, map[string]interface{}{"ok": true, "remoteUser": user.Username})
}

// apiDeleteConnection tears a connection down. Local records always go;
// remote webhook cleanup failures are reported back as a warning.
func (s *Server) apiDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetConnection(id); !found {
		s.jsonError(w, "Connection not found", http.StatusNotFound)
		return
	}

	result, err := s.connections.Disconnect(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to disconnect", "connection", id, "error", err)
		s.jsonError(w, "Failed to delete connection", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"projectsRemoved": result.ProjectsRemoved,
		"clean":           result.Clean(),
	}
	if !result.Clean() {
		warnings := make([]string, 0, len(result.CleanupFailures))
		for _, f := range result.CleanupFailures {
			warnings = append(warnings, f.Err.Error())
		}
		response["warnings"] = warnings
	}
	s.jsonResponse(w, response)
}

// LinkProjectRequest is the request body for linking a remote project.
type LinkProjectRequest struct {
	RemoteProjectID int64 `json:"remoteProjectId"`
}

// apiLinkProject links a GitLab project under a connection and registers
// the webhook on the remote side.
func (s *Server) apiLinkProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, found := s.store.GetConnection(id)
	if !found {
		s.jsonError(w, "Connection not found", http.StatusNotFound)
		return
	}

	var req LinkProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RemoteProjectID == 0 {
		s.jsonError(w, "remoteProjectId is required", http.StatusBadRequest)
		return
	}
	if _, found := s.store.GetProjectByRemoteID(conn.ID, req.RemoteProjectID); found {
		s.jsonError(w, "Project already linked", http.StatusConflict)
		return
	}

	project, err := s.connections.LinkProject(r.Context(), conn, req.RemoteProjectID)
	if err != nil {
		s.logger.Error("Failed to link project", "connection", id, "remote_project", req.RemoteProjectID, "error", err)
		s.jsonError(w, "Failed to link project", http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, project)
}

// apiUnlinkProject removes a linked project and best-effort deletes its
// remote webhook.
func (s *Server) apiUnlinkProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found := s.store.GetLinkedProject(id); !found {
		s.jsonError(w, "Project not found", http.StatusNotFound)
		return
	}

	if err := s.connections.UnlinkProject(r.Context(), id); err != nil {
		s.logger.Error("Failed to unlink project", "project", id, "error", err)
		s.jsonError(w, "Failed to unlink project", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"message": "project unlinked"})
}

// apiRunSync triggers an immediate refresh pass over stale links.
func (s *Server) apiRunSync(w http.ResponseWriter, r *http.Request) {
	report := s.syncer.Run(r.Context())
	s.jsonResponse(w, report)
}
