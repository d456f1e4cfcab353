package mission

import (
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/report"
)

// AgentView is one agent's row in a Snapshot.
type AgentView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Role        string            `json:"role,omitempty"`
	Status      models.AgentState `json:"status"`
	LastSeen    time.Time         `json:"last_seen,omitzero"`
	LastMessage string            `json:"last_message,omitempty"`
	SessionKey  string            `json:"session_key,omitempty"`
	Model       string            `json:"model,omitempty"`
	SpawnState  models.SpawnState `json:"spawn_state"`
	SpawnError  string            `json:"spawn_error,omitempty"`
	Streaming   bool              `json:"streaming"`
	Tokens      int               `json:"tokens"`
}

// Snapshot is a read-only view of the current or most recent mission.
type Snapshot struct {
	MissionID    string                   `json:"mission_id"`
	Goal         string                   `json:"goal"`
	Topology     models.Topology          `json:"topology"`
	Status       models.MissionStatus     `json:"status"`
	Running      bool                     `json:"running"`
	StartedAt    time.Time                `json:"started_at"`
	Agents       []AgentView              `json:"agents"`
	Tasks        []models.Task            `json:"tasks"`
	Stats        models.TaskStats         `json:"stats"`
	Progress     int                      `json:"progress"`
	Tokens       int                      `json:"tokens"`
	CostEstimate float64                  `json:"cost_estimate"`
	Artifacts    []models.Artifact        `json:"artifacts"`
	Approvals    []models.ApprovalRequest `json:"approvals"`
	Activity     []models.ActivityEvent   `json:"activity"`
	ReportID     string                   `json:"report_id,omitempty"`
}

// Snapshot returns the state of the current mission, or of the last one
// when none is running. It returns ErrNoMission before the first launch.
func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.Lock()
	r := e.cur
	if r == nil {
		e.mu.Unlock()
		return Snapshot{}, ErrNoMission
	}
	snap := Snapshot{
		MissionID: r.id,
		Goal:      r.goal,
		Topology:  r.topology,
		Status:    r.status,
		Running:   !r.finished,
		StartedAt: r.startedAt,
		ReportID:  r.reportID,
		Activity:  append([]models.ActivityEvent(nil), e.activity...),
	}
	e.mu.Unlock()

	snap.Tasks = r.board.Tasks()
	snap.Stats = models.CountTasks(snap.Tasks)
	snap.Progress = r.board.Progress()
	snap.Tokens = e.ingestor.TotalTokens()
	snap.CostEstimate = report.EstimateCost(snap.Tokens, e.cfg.CostPer1KTokens)
	snap.Artifacts = e.artifacts.List()
	snap.Approvals = e.ListApprovals(models.ApprovalPending)

	streaming := map[string]bool{}
	for _, id := range e.ingestor.Connected() {
		streaming[id] = true
	}
	statuses := e.status.Snapshot(r.agentIDs())
	for i, m := range r.team {
		st := statuses[i]
		v := AgentView{
			ID:          m.ID,
			Name:        m.Name,
			Role:        m.RoleDescription,
			Status:      st.Status,
			LastSeen:    st.LastSeen,
			LastMessage: st.LastMessage,
			Streaming:   streaming[m.ID],
			Tokens:      e.ingestor.Tokens(m.ID),
		}
		if s, ok := e.sessions.Session(m.ID); ok {
			v.SessionKey = s.SessionKey
			v.Model = s.ModelUsed
		}
		v.SpawnState, v.SpawnError = e.sessions.SpawnState(m.ID)
		snap.Agents = append(snap.Agents, v)
	}
	return snap, nil
}

// AgentOutput returns an agent's buffered output for the current mission.
func (e *Engine) AgentOutput(agentID string) string {
	return e.ingestor.Output(agentID)
}
