package models

// AgentSession is the gateway-side execution context held by one agent for a mission.
type AgentSession struct {
	AgentID    string `json:"agent_id"`
	SessionKey string `json:"session_key"`
	ModelUsed  string `json:"model_used,omitempty"`
	Label      string `json:"label,omitempty"`
	Reused     bool   `json:"reused,omitempty"`
}

// SpawnState tracks where an agent is in session creation.
type SpawnState string

const (
	SpawnStateNone     SpawnState = "none"
	SpawnStateSpawning SpawnState = "spawning"
	SpawnStateReady    SpawnState = "ready"
	SpawnStateError    SpawnState = "error"
)
