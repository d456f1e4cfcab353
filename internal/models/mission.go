package models

import "time"

// Topology is the dispatch strategy for a mission.
type Topology string

const (
	TopologySequential   Topology = "sequential"
	TopologyHierarchical Topology = "hierarchical"
	TopologyParallel     Topology = "parallel"
)

// Valid reports whether t names a known topology.
func (t Topology) Valid() bool {
	switch t {
	case TopologySequential, TopologyHierarchical, TopologyParallel:
		return true
	}
	return false
}

// MissionStatus is the lifecycle state of a mission checkpoint.
type MissionStatus string

const (
	MissionStatusRunning   MissionStatus = "running"
	MissionStatusPaused    MissionStatus = "paused"
	MissionStatusCompleted MissionStatus = "completed"
	MissionStatusAborted   MissionStatus = "aborted"
)

// MissionCheckpoint is the persisted snapshot of an in-flight mission.
type MissionCheckpoint struct {
	ID              string                  `json:"id"`
	Label           string                  `json:"label"`
	ProcessType     Topology                `json:"process_type"`
	Team            []TeamMember            `json:"team"`
	Tasks           []Task                  `json:"tasks"`
	AgentSessionMap map[string]AgentSession `json:"agent_session_map"`
	Status          MissionStatus           `json:"status"`
	StartedAt       time.Time               `json:"started_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// TaskStats counts tasks by status.
type TaskStats struct {
	Total      int `json:"total"`
	Done       int `json:"done"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Pending    int `json:"pending"`
}

// CountTasks computes TaskStats for a task list.
func CountTasks(tasks []Task) TaskStats {
	st := TaskStats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusDone:
			st.Done++
		case TaskStatusInProgress:
			st.InProgress++
		case TaskStatusBlocked:
			st.Blocked++
		default:
			st.Pending++
		}
	}
	return st
}

// Outcome classifies how a mission ended.
type Outcome string

const (
	OutcomeAborted  Outcome = "aborted"
	OutcomeNoOutput Outcome = "no-output"
	OutcomePartial  Outcome = "partial"
	OutcomeComplete Outcome = "complete"
)

// MissionReport is generated once when a mission reaches a terminal state.
type MissionReport struct {
	ID           string        `json:"id"`
	MissionID    string        `json:"mission_id"`
	Goal         string        `json:"goal"`
	Outcome      Outcome       `json:"outcome"`
	TaskStats    TaskStats     `json:"task_stats"`
	Duration     time.Duration `json:"duration"`
	TokenCount   int           `json:"token_count"`
	CostEstimate float64       `json:"cost_estimate"`
	Artifacts    []Artifact    `json:"artifacts"`
	ReportText   string        `json:"report_text"`
	CompletedAt  time.Time     `json:"completed_at"`
}
