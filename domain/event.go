package domain

import "encoding/json"

const (
	EntityTypeTask = "task"

	EventTaskCreated   = "task-created"
	EventTaskCompleted = "task-completed"
	EventTaskDeleted   = "task-deleted"
)

// TaskEvent describes a change applied to a task. Time is a strictly
// increasing unix nano timestamp within a process.
type TaskEvent struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
}
