package mission

import (
	"fmt"
	"strings"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/classify"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/status"
)

// record appends to the activity ring.
func (e *Engine) record(ev models.ActivityEvent) {
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activity = append(e.activity, ev)
	if over := len(e.activity) - e.cfg.ActivityLimit; over > 0 {
		e.activity = append([]models.ActivityEvent(nil), e.activity[over:]...)
	}
}

// doneKey is the completion signal key for an agent. Agents without a
// session still count once.
func (e *Engine) doneKey(agentID string) string {
	if s, ok := e.sessions.Session(agentID); ok && s.SessionKey != "" {
		return s.SessionKey
	}
	return "agent:" + agentID
}

func (e *Engine) statusChanged(agentID string, from, to models.AgentState) {
	r := e.current()
	if r == nil {
		return
	}
	e.detector.Observe(to)
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityStatus, Text: fmt.Sprintf("%s -> %s", from, to)})
	e.detector.Check(r.tok)
}

// sink receives the ingestor's callbacks for the engine.
type sink struct{ *Engine }

func (e sink) StreamOpened(agentID string) {
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushActivity})
}

func (e sink) Output(agentID, text string) {
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushActivity, Message: snippet(text)})
}

func (e sink) Tool(agentID, name string) {
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushActivity})
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityTool, Text: name + "()"})
}

func (e sink) TurnEnded(agentID string, result classify.Result, final string) {
	r := e.current()
	if r == nil || r.tok.Stale() {
		return
	}
	last := classify.LastLine(final)

	switch result {
	case classify.WaitingForInput:
		e.status.Push(status.Push{AgentID: agentID, Kind: status.PushWaiting, Message: snippet(last)})
		e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityTurn, Text: "waiting for input: " + snippet(last)})
		for _, a := range classify.FindApprovals(final) {
			e.addApproval(r, models.ApprovalRequest{
				AgentID: agentID,
				Action:  a.Action,
				Context: a.Context,
				Source:  models.ApprovalSourceAgent,
			})
		}

	default:
		n := e.detector.MarkDone(e.doneKey(agentID))
		moved := r.board.CompleteAgent(agentID)
		e.status.Push(status.Push{AgentID: agentID, Kind: status.PushTurnCompleted, Message: snippet(last)})
		e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityTurn, Text: fmt.Sprintf("turn complete, %d tasks done", moved)})
		e.logger.Info("agent completed", "mission", r.id, "agent", agentID, "signals", n, "expected", len(r.team))
	}
	e.detector.Check(r.tok)
}

func (e sink) StreamError(agentID, message string) {
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushError, Message: message})
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityError, Text: message})
}

func (e sink) ArtifactsFound(arts []models.Artifact) {
	for _, a := range arts {
		e.record(models.ActivityEvent{AgentID: a.AgentID, Kind: models.ActivityOutput, Text: fmt.Sprintf("artifact: %s (%s)", a.Title, a.Type)})
	}
}

// hooks receives dispatch outcomes for one launch.
type hooks struct {
	e   *Engine
	tok generation.Token
}

func (h *hooks) Dispatched(agentID string, tasks []models.Task) {
	if h.tok.Stale() {
		return
	}
	h.e.status.Push(status.Push{AgentID: agentID, Kind: status.PushActivity})
	for _, t := range tasks {
		h.e.record(models.ActivityEvent{AgentID: agentID, TaskID: t.ID, Kind: models.ActivityDispatch, Text: "dispatched: " + t.Title})
	}
}

// DispatchFailed fails the agent open: its tasks are already done, its
// status is pinned to error and it counts as having signalled completion.
func (h *hooks) DispatchFailed(agentID string, err error) {
	if h.tok.Stale() {
		return
	}
	h.e.status.Push(status.Push{AgentID: agentID, Kind: status.PushFailure, Message: err.Error()})
	h.e.detector.MarkDone(h.e.doneKey(agentID))
	h.e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityError, Text: "dispatch failed: " + err.Error()})
	h.e.detector.Check(h.tok)
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const limit = 120
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit]) + "..."
	}
	return s
}
