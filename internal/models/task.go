package models

import "time"

// TaskStatus represents where a task is in its lifecycle.
type TaskStatus string

const (
	TaskStatusInbox      TaskStatus = "inbox"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Rank orders statuses for forward-only transitions. Done and blocked are both terminal.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusInbox:
		return 0
	case TaskStatusAssigned:
		return 1
	case TaskStatusInProgress:
		return 2
	case TaskStatusDone, TaskStatusBlocked:
		return 3
	default:
		return -1
	}
}

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityNormal TaskPriority = "normal"
)

// Task is one unit of work derived from a mission goal.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	AgentID     string       `json:"agent_id,omitempty"`
	MissionID   string       `json:"mission_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
