// Package board defines the PulseBoard domain model: teams, boards, columns,
// tasks, automation rules, and the GitLab association records that tie tasks
// to remote branches, merge requests, and pipelines.
package board

import (
	"fmt"
	"time"
)

// RefPrefix is the human-readable task reference prefix, as in "PB-42".
const RefPrefix = "PB"

// SystemActor attributes mutations performed by automation or sync,
// as opposed to an explicit user action.
const SystemActor = "system"

// Team is the tenant boundary. Boards, connections, and linked projects
// all belong to exactly one team.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

// Board is a kanban board owned by a team.
type Board struct {
	ID     string `json:"id"`
	TeamID string `json:"teamId"`
	Name   string `json:"name"`

	// NextTaskNumber is the next per-board sequential task number.
	// Allocation happens inside the task-create transaction so concurrent
	// creates never hand out the same number.
	NextTaskNumber int `json:"nextTaskNumber"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column is a position-ordered lane on a board.
type Column struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// User is a minimal account record. Authentication lives elsewhere; the core
// only needs identity for assignment and attribution.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Label is a board-scoped tag attachable to tasks (N:M).
type Label struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Color   string `json:"color"` // CSS color for UI display
}

// TaskAssignee records a user assigned to a task, with assignment metadata.
type TaskAssignee struct {
	TaskID     string    `json:"taskId"`
	UserID     string    `json:"userId"`
	AssignedBy string    `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Task is the automation target.
type Task struct {
	// Identity
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	// Number is the per-board sequence used for human references ("PB-42")
	// and as the external-link correlation key.
	Number int `json:"number"`

	// Placement
	ColumnID string `json:"columnId"`
	Position int    `json:"position"`

	// Content
	Title       string `json:"title"`
	Description string `json:"description"`

	// Automation-writable fields
	Priority       string     `json:"priority"`       // low, medium, high, urgent
	DueDate        *time.Time `json:"dueDate,omitempty"`
	EffortEstimate int        `json:"effortEstimate"` // hours

	// Tracking
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated on fetch
	Assignees []TaskAssignee `json:"assignees,omitempty"`
	Labels    []Label        `json:"labels,omitempty"`
}

// Ref returns the human-readable reference for the task, e.g. "PB-42".
func (t *Task) Ref() string {
	return fmt.Sprintf("%s-%d", RefPrefix, t.Number)
}

// Comment is a task comment.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"` // markdown
	CreatedAt time.Time `json:"createdAt"`
}

// TaskDependency is a directed edge: TaskID depends on DependsOnID.
// Edges must not form a cycle; creation runs a reachability check first.
type TaskDependency struct {
	TaskID      string    `json:"taskId"`
	DependsOnID string    `json:"dependsOnId"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ErrCircularDependency is returned when adding a dependency edge would
// create a cycle.
type ErrCircularDependency struct {
	TaskID      string
	DependsOnID string
}

func (e ErrCircularDependency) Error() string {
	return fmt.Sprintf("dependency of %s on %s would be circular", e.TaskID, e.DependsOnID)
}

// ErrDependencyExists is returned when the dependency edge already exists.
type ErrDependencyExists struct {
	TaskID      string
	DependsOnID string
}

func (e ErrDependencyExists) Error() string {
	return fmt.Sprintf("task %s already depends on %s", e.TaskID, e.DependsOnID)
}

// ExternalConnection holds credentials for one GitLab instance. One
// connection can back multiple linked projects.
type ExternalConnection struct {
	ID     string `json:"id"`
	TeamID string `json:"teamId"`
	Name   string `json:"name"`

	BaseURL string `json:"baseUrl"`
	Token   string `json:"-"` // API token, never serialized
	// WebhookSecret is the per-connection shared secret GitLab sends back
	// in X-Gitlab-Token.
	WebhookSecret string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// LinkedProject associates a team with a remote GitLab project under a
// connection. Unique per (team, remote project id).
type LinkedProject struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	TeamID       string `json:"teamId"`

	RemoteProjectID int64  `json:"remoteProjectId"`
	Name            string `json:"name"`
	DefaultBranch   string `json:"defaultBranch"`
	WebURL          string `json:"webUrl"`

	// RemoteHookID is the id of the webhook we registered on the remote
	// project, kept for cleanup on unlink/disconnect.
	RemoteHookID int64 `json:"remoteHookId"`

	CreatedAt time.Time `json:"createdAt"`
}

// LinkType is the kind of external entity a task is associated with.
type LinkType string

const (
	LinkBranch       LinkType = "branch"
	LinkMergeRequest LinkType = "merge_request"
	LinkIssue        LinkType = "issue"
)

// TaskExternalLink associates a task with a GitLab entity. For merge_request
// and issue links RemoteIID identifies the entity; for branch links Ref does.
// Display fields are cached copies refreshed by webhooks and the sync job.
type TaskExternalLink struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"` // LinkedProject.ID

	LinkType  LinkType `json:"linkType"`
	RemoteIID int64    `json:"remoteIid,omitempty"`
	Ref       string   `json:"ref,omitempty"`

	// Cached display fields
	Title          string `json:"title"`
	State          string `json:"state"`
	URL            string `json:"url"`
	PipelineStatus string `json:"pipelineStatus,omitempty"`
	Author         string `json:"author,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`

	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// DisconnectResult reports the outcome of deleting a connection. Local state
// is always removed; remote webhook cleanup is best-effort and any failures
// are listed so the caller can surface a partial-failure warning.
type DisconnectResult struct {
	ProjectsRemoved int
	CleanupFailures []CleanupFailure
}

// CleanupFailure records one remote webhook the teardown could not delete.
type CleanupFailure struct {
	ProjectID       string
	RemoteProjectID int64
	Err             error
}

// Clean reports whether remote cleanup fully succeeded.
func (r DisconnectResult) Clean() bool {
	return len(r.CleanupFailures) == 0
}
