package gitlab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/board"
	"github.com/pulseboard/pulseboard/internal/db"
)

// ConnectionService manages GitLab connections and project links, including
// remote webhook registration and best-effort teardown.
type ConnectionService struct {
	store     *db.Store
	newClient ClientFactory

	// webhookBaseURL is the externally reachable webhook prefix; the
	// connection id is appended when registering remote hooks.
	webhookBaseURL string

	logger *slog.Logger
}

// NewConnectionService creates a connection service.
func NewConnectionService(store *db.Store, factory ClientFactory, webhookBaseURL string, logger *slog.Logger) *ConnectionService {
	if factory == nil {
		factory = NewClient
	}
	return &ConnectionService{
		store:          store,
		newClient:      factory,
		webhookBaseURL: webhookBaseURL,
		logger:         logger,
	}
}

// TestConnection validates a connection's credentials by fetching the
// authenticated user. API failures surface to the caller for inline display.
func (s *ConnectionService) TestConnection(ctx context.Context, conn *board.ExternalConnection) (*User, error) {
	return s.newClient(conn.BaseURL, conn.Token).CurrentUser(ctx)
}

// LinkProject links a remote project to a team under a connection: fetches
// project metadata, registers a webhook on the remote, and stores the link
// with the remote hook id for later cleanup.
func (s *ConnectionService) LinkProject(ctx context.Context, conn *board.ExternalConnection, remoteProjectID int64) (*board.LinkedProject, error) {
	client := s.newClient(conn.BaseURL, conn.Token)

	remote, err := client.GetProject(ctx, remoteProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote project: %w", err)
	}

	hookURL := fmt.Sprintf("%s/%s", s.webhookBaseURL, conn.ID)
	hook, err := client.CreateProjectHook(ctx, remoteProjectID, hookURL, conn.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to register webhook: %w", err)
	}

	project := &board.LinkedProject{
		ID:              uuid.New().String(),
		ConnectionID:    conn.ID,
		TeamID:          conn.TeamID,
		RemoteProjectID: remoteProjectID,
		Name:            remote.PathWithNamespace,
		DefaultBranch:   remote.DefaultBranch,
		WebURL:          remote.WebURL,
		RemoteHookID:    hook.ID,
	}
	if err := s.store.CreateLinkedProject(project); err != nil {
		return nil, err
	}

	s.logger.Info("linked project", "project", project.Name, "remote_id", remoteProjectID)
	return project, nil
}

// UnlinkProject removes a linked project. The remote webhook is deleted
// best-effort: a failure is logged and the local row is removed regardless,
// favoring local consistency over remote tidiness.
func (s *ConnectionService) UnlinkProject(ctx context.Context, projectID string) error {
	project, found := s.store.GetLinkedProject(projectID)
	if !found {
		return fmt.Errorf("linked project %s not found", projectID)
	}

	if project.RemoteHookID != 0 {
		if conn, ok := s.store.GetConnection(project.ConnectionID); ok {
			client := s.newClient(conn.BaseURL, conn.Token)
			if err := client.DeleteProjectHook(ctx, project.RemoteProjectID, project.RemoteHookID); err != nil {
				s.logger.Warn("failed to delete remote webhook",
					"project", project.Name,
					"hook", project.RemoteHookID,
					"error", err)
			}
		}
	}

	return s.store.DeleteLinkedProject(projectID)
}

// Disconnect deletes a connection and all its linked projects. Remote
// webhooks are deleted best-effort first; failures are collected in the
// result rather than aborting, so the caller can surface a partial-failure
// warning while local state is gone either way.
func (s *ConnectionService) Disconnect(ctx context.Context, connectionID string) (board.DisconnectResult, error) {
	var result board.DisconnectResult

	conn, found := s.store.GetConnection(connectionID)
	if !found {
		return result, fmt.Errorf("connection %s not found", connectionID)
	}

	projects, err := s.store.GetProjectsByConnection(connectionID)
	if err != nil {
		return result, err
	}

	client := s.newClient(conn.BaseURL, conn.Token)
	for _, p := range projects {
		if p.RemoteHookID == 0 {
			continue
		}
		if err := client.DeleteProjectHook(ctx, p.RemoteProjectID, p.RemoteHookID); err != nil {
			s.logger.Warn("failed to delete remote webhook during disconnect",
				"project", p.Name,
				"hook", p.RemoteHookID,
				"error", err)
			result.CleanupFailures = append(result.CleanupFailures, board.CleanupFailure{
				ProjectID:       p.ID,
				RemoteProjectID: p.RemoteProjectID,
				Err:             err,
			})
		}
	}
	result.ProjectsRemoved = len(projects)

	if err := s.store.DeleteConnection(connectionID); err != nil {
		return result, err
	}
	return result, nil
}
