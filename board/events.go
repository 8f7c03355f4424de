package board

// Event is a realtime notification published to a board's channel.
type Event struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
	UserID string         `json:"user_id"`
}

// Event actions emitted by the core subsystem.
const (
	EventTaskCreated     = "task.created"
	EventTaskMoved       = "task.moved"
	EventTaskUpdated     = "task.updated"
	EventTaskAssigned    = "task.assigned"
	EventLabelAdded      = "task.label_added"
	EventDependencyAdded = "task.dependency_added"

	EventMRCreated       = "gitlab_mr_created"
	EventMRUpdated       = "gitlab_mr_updated"
	EventMRMerged        = "gitlab_mr_merged"
	EventMRClosed        = "gitlab_mr_closed"
	EventPipelineUpdated = "gitlab_pipeline_updated"
)

// TaskEvent builds an event about a task. Extra fields are merged into the
// data payload alongside task_id.
func TaskEvent(action, taskID, userID string, extra map[string]any) Event {
	data := map[string]any{"task_id": taskID}
	for k, v := range extra {
		data[k] = v
	}
	return Event{Action: action, Data: data, UserID: userID}
}
