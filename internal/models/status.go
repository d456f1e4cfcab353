package models

import "time"

// AgentState is the derived liveness of an agent.
type AgentState string

const (
	AgentStateActive          AgentState = "active"
	AgentStateIdle            AgentState = "idle"
	AgentStateWaitingForInput AgentState = "waiting_for_input"
	AgentStateError           AgentState = "error"
	AgentStateStopped         AgentState = "stopped"
	AgentStateSpawning        AgentState = "spawning"
	AgentStatePaused          AgentState = "paused"
	AgentStateNone            AgentState = "none"
)

// Terminal reports whether the state counts as finished for mission completion.
func (s AgentState) Terminal() bool {
	switch s {
	case AgentStateIdle, AgentStateNone, AgentStateError:
		return true
	}
	return false
}

// AgentStatus is the authoritative status of one agent.
type AgentStatus struct {
	AgentID     string     `json:"agent_id"`
	Status      AgentState `json:"status"`
	LastSeen    time.Time  `json:"last_seen"`
	LastMessage string     `json:"last_message,omitempty"`
}
