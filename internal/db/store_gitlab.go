package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/board"
)

// --- Connection Operations ---

// CreateConnection stores a GitLab connection.
func (s *Store) CreateConnection(c *board.ExternalConnection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO external_connections (id, team_id, name, base_url, token, webhook_secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TeamID, c.Name, c.BaseURL, c.Token, c.WebhookSecret, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by ID.
func (s *Store) GetConnection(id string) (*board.ExternalConnection, bool) {
	var c board.ExternalConnection
	err := s.db.QueryRow(`
		SELECT id, team_id, name, base_url, token, webhook_secret, created_at
		FROM external_connections WHERE id = ?
	`, id).Scan(&c.ID, &c.TeamID, &c.Name, &c.BaseURL, &c.Token, &c.WebhookSecret, &c.CreatedAt)
	if err != nil {
		return nil, false
	}
	return &c, true
}

// GetConnectionsByTeam retrieves a team's connections.
func (s *Store) GetConnectionsByTeam(teamID string) ([]board.ExternalConnection, error) {
	rows, err := s.db.Query(`
		SELECT id, team_id, name, base_url, token, webhook_secret, created_at
		FROM external_connections WHERE team_id = ? ORDER BY created_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []board.ExternalConnection
	for rows.Next() {
		var c board.ExternalConnection
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Name, &c.BaseURL, &c.Token, &c.WebhookSecret, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DeleteConnection removes a connection. Linked projects and their external
// links cascade at the schema level; remote webhook cleanup is the caller's
// responsibility before calling this.
func (s *Store) DeleteConnection(id string) error {
	if _, err := s.db.Exec(`DELETE FROM external_connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// --- Linked Project Operations ---

// CreateLinkedProject associates a team with a remote project.
func (s *Store) CreateLinkedProject(p *board.LinkedProject) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO linked_projects (id, connection_id, team_id, remote_project_id,
			name, default_branch, web_url, remote_hook_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ConnectionID, p.TeamID, p.RemoteProjectID,
		p.Name, p.DefaultBranch, p.WebURL, p.RemoteHookID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create linked project: %w", err)
	}
	return nil
}

// GetLinkedProject retrieves a linked project by ID.
func (s *Store) GetLinkedProject(id string) (*board.LinkedProject, bool) {
	row := s.db.QueryRow(projectSelect+` WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, false
	}
	return p, true
}

// GetProjectByRemoteID resolves the remote project id in a webhook payload
// to a locally linked project under the receiving connection.
func (s *Store) GetProjectByRemoteID(connectionID string, remoteProjectID int64) (*board.LinkedProject, bool) {
	row := s.db.QueryRow(projectSelect+` WHERE connection_id = ? AND remote_project_id = ?`,
		connectionID, remoteProjectID)
	p, err := scanProject(row)
	if err != nil {
		return nil, false
	}
	return p, true
}

// GetProjectsByConnection retrieves all projects linked under a connection.
func (s *Store) GetProjectsByConnection(connectionID string) ([]board.LinkedProject, error) {
	rows, err := s.db.Query(projectSelect+` WHERE connection_id = ? ORDER BY created_at`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked projects: %w", err)
	}
	defer rows.Close()

	var projects []board.LinkedProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// DeleteLinkedProject removes a linked project; its external links cascade.
func (s *Store) DeleteLinkedProject(id string) error {
	if _, err := s.db.Exec(`DELETE FROM linked_projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete linked project: %w", err)
	}
	return nil
}

const projectSelect = `
	SELECT id, connection_id, team_id, remote_project_id, name, default_branch,
		web_url, remote_hook_id, created_at
	FROM linked_projects`

func scanProject(row rowScanner) (*board.LinkedProject, error) {
	var p board.LinkedProject
	var name, branch, webURL sql.NullString
	err := row.Scan(&p.ID, &p.ConnectionID, &p.TeamID, &p.RemoteProjectID,
		&name, &branch, &webURL, &p.RemoteHookID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.DefaultBranch = branch.String
	p.WebURL = webURL.String
	return &p, nil
}

// --- External Link Operations ---

const linkColumns = `id, task_id, project_id, link_type, remote_iid, ref, title, state,
	url, pipeline_status, author, meta, last_synced_at, created_at`

// CreateExternalLink inserts an association record.
func (s *Store) CreateExternalLink(l *board.TaskExternalLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	meta, _ := json.Marshal(l.Meta)

	_, err := s.db.Exec(`
		INSERT INTO task_external_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.TaskID, l.ProjectID, l.LinkType, l.RemoteIID, l.Ref, l.Title, l.State,
		l.URL, l.PipelineStatus, l.Author, string(meta), nullTime(l.LastSyncedAt), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create external link: %w", err)
	}
	return nil
}

// LinkExists reports whether an association already exists for the key
// (task, project, link type) disambiguated by iid for merge_request/issue
// links, or by ref for branch links.
func (s *Store) LinkExists(taskID, projectID string, linkType board.LinkType, iid int64, ref string) (bool, error) {
	var query string
	var args []any
	if linkType == board.LinkBranch {
		query = `SELECT COUNT(*) FROM task_external_links
			WHERE task_id = ? AND project_id = ? AND link_type = ? AND ref = ?`
		args = []any{taskID, projectID, linkType, ref}
	} else {
		query = `SELECT COUNT(*) FROM task_external_links
			WHERE task_id = ? AND project_id = ? AND link_type = ? AND remote_iid = ?`
		args = []any{taskID, projectID, linkType, iid}
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check link existence: %w", err)
	}
	return count > 0, nil
}

// GetExternalLink retrieves a link by ID.
func (s *Store) GetExternalLink(id string) (*board.TaskExternalLink, bool) {
	row := s.db.QueryRow(`SELECT `+linkColumns+` FROM task_external_links WHERE id = ?`, id)
	l, err := scanLink(row)
	if err != nil {
		return nil, false
	}
	return l, true
}

// GetLinksByTask retrieves all links of a task.
func (s *Store) GetLinksByTask(taskID string) ([]board.TaskExternalLink, error) {
	return s.queryLinks(`SELECT `+linkColumns+` FROM task_external_links
		WHERE task_id = ? ORDER BY created_at`, taskID)
}

// GetMergeRequestLinks retrieves every merge_request link of a project for
// one remote iid.
func (s *Store) GetMergeRequestLinks(projectID string, iid int64) ([]board.TaskExternalLink, error) {
	return s.queryLinks(`SELECT `+linkColumns+` FROM task_external_links
		WHERE project_id = ? AND link_type = ? AND remote_iid = ?
		ORDER BY created_at`, projectID, board.LinkMergeRequest, iid)
}

// GetLinksByRef retrieves every link of a project carrying the given ref,
// regardless of link type. Pipeline webhooks fan out over this set.
func (s *Store) GetLinksByRef(projectID, ref string) ([]board.TaskExternalLink, error) {
	return s.queryLinks(`SELECT `+linkColumns+` FROM task_external_links
		WHERE project_id = ? AND ref = ? ORDER BY created_at`, projectID, ref)
}

// StaleLink pairs a stale association with the connection needed to sync it.
type StaleLink struct {
	Link            board.TaskExternalLink
	ConnectionID    string
	RemoteProjectID int64
}

// GetStaleMergeRequestLinks returns up to limit merge_request links whose
// last_synced_at is NULL or before cutoff, stalest first.
func (s *Store) GetStaleMergeRequestLinks(cutoff time.Time, limit int) ([]StaleLink, error) {
	rows, err := s.db.Query(`
		SELECT l.id, l.task_id, l.project_id, l.link_type, l.remote_iid, l.ref, l.title, l.state,
			l.url, l.pipeline_status, l.author, l.meta, l.last_synced_at, l.created_at,
			p.connection_id, p.remote_project_id
		FROM task_external_links l
		JOIN linked_projects p ON p.id = l.project_id
		WHERE l.link_type = ? AND (l.last_synced_at IS NULL OR l.last_synced_at < ?)
		ORDER BY l.last_synced_at IS NOT NULL, l.last_synced_at ASC
		LIMIT ?
	`, board.LinkMergeRequest, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale links: %w", err)
	}
	defer rows.Close()

	var stale []StaleLink
	for rows.Next() {
		var sl StaleLink
		var title, state, url, pipeline, author, meta sql.NullString
		var synced sql.NullTime
		err := rows.Scan(&sl.Link.ID, &sl.Link.TaskID, &sl.Link.ProjectID, &sl.Link.LinkType,
			&sl.Link.RemoteIID, &sl.Link.Ref, &title, &state, &url, &pipeline, &author, &meta,
			&synced, &sl.Link.CreatedAt, &sl.ConnectionID, &sl.RemoteProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale link: %w", err)
		}
		sl.Link.Title = title.String
		sl.Link.State = state.String
		sl.Link.URL = url.String
		sl.Link.PipelineStatus = pipeline.String
		sl.Link.Author = author.String
		if meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &sl.Link.Meta)
		}
		sl.Link.LastSyncedAt = scanNullTime(synced)
		stale = append(stale, sl)
	}
	return stale, rows.Err()
}

// RefreshLink overwrites a link's cached display fields and stamps
// last_synced_at. Pure overwrite, safe to re-apply on webhook replay.
func (s *Store) RefreshLink(id string, title, state, url, author, ref string, meta map[string]string, syncedAt time.Time) error {
	metaJSON, _ := json.Marshal(meta)
	_, err := s.db.Exec(`
		UPDATE task_external_links
		SET title = ?, state = ?, url = ?, author = ?, ref = ?, meta = ?, last_synced_at = ?
		WHERE id = ?
	`, title, state, url, author, ref, string(metaJSON), syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to refresh link: %w", err)
	}
	return nil
}

// SetLinkPipelineStatus updates the cached pipeline status of one link.
func (s *Store) SetLinkPipelineStatus(id, status string) error {
	_, err := s.db.Exec(`
		UPDATE task_external_links SET pipeline_status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set pipeline status: %w", err)
	}
	return nil
}

// DeleteExternalLink removes an association. Links never expire on their
// own; deletion is an explicit user action.
func (s *Store) DeleteExternalLink(id string) error {
	if _, err := s.db.Exec(`DELETE FROM task_external_links WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete external link: %w", err)
	}
	return nil
}

func (s *Store) queryLinks(query string, args ...any) ([]board.TaskExternalLink, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query external links: %w", err)
	}
	defer rows.Close()

	var links []board.TaskExternalLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func scanLink(row rowScanner) (*board.TaskExternalLink, error) {
	var l board.TaskExternalLink
	var title, state, url, pipeline, author, meta sql.NullString
	var synced sql.NullTime
	err := row.Scan(&l.ID, &l.TaskID, &l.ProjectID, &l.LinkType, &l.RemoteIID, &l.Ref,
		&title, &state, &url, &pipeline, &author, &meta, &synced, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Title = title.String
	l.State = state.String
	l.URL = url.String
	l.PipelineStatus = pipeline.String
	l.Author = author.String
	if meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &l.Meta)
	}
	l.LastSyncedAt = scanNullTime(synced)
	return &l, nil
}
