package models

import "time"

// ActivityKind categorizes an activity feed entry.
type ActivityKind string

const (
	ActivityDispatch ActivityKind = "dispatch"
	ActivityOutput   ActivityKind = "output"
	ActivityTool     ActivityKind = "tool"
	ActivityStatus   ActivityKind = "status"
	ActivityTurn     ActivityKind = "turn"
	ActivityApproval ActivityKind = "approval"
	ActivityError    ActivityKind = "error"
	ActivitySystem   ActivityKind = "system"
)

// ActivityEvent is one line of the mission activity feed.
type ActivityEvent struct {
	AgentID string       `json:"agent_id,omitempty"`
	TaskID  string       `json:"task_id,omitempty"`
	Kind    ActivityKind `json:"kind"`
	Text    string       `json:"text"`
	At      time.Time    `json:"at"`
}
