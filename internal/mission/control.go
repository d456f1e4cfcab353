package mission

import (
	"context"
	"fmt"
	"strings"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/status"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

// Stop ends the running mission gracefully: sessions are killed, the report
// is written and the checkpoint is archived as completed.
func (e *Engine) Stop(ctx context.Context) (*models.MissionReport, error) {
	e.launchMu.Lock()
	defer e.launchMu.Unlock()
	r := e.current()
	if r == nil {
		return nil, ErrNoMission
	}
	return e.finish(ctx, r, models.MissionStatusCompleted)
}

// Abort ends the running mission and archives it as aborted.
func (e *Engine) Abort(ctx context.Context) (*models.MissionReport, error) {
	e.launchMu.Lock()
	defer e.launchMu.Unlock()
	r := e.current()
	if r == nil {
		return nil, ErrNoMission
	}
	return e.finish(ctx, r, models.MissionStatusAborted)
}

// Steer sends an out-of-band directive to an agent and marks it active.
func (e *Engine) Steer(ctx context.Context, agentID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("steer %s: empty message", agentID)
	}
	r := e.current()
	if r == nil {
		return ErrNoMission
	}
	if _, ok := r.member(agentID); !ok {
		return fmt.Errorf("steer %s: %w", agentID, ErrUnknownAgent)
	}
	sess, ok := e.sessions.Session(agentID)
	if !ok {
		return fmt.Errorf("steer %s: agent has no session", agentID)
	}
	if err := e.gw.Send(ctx, sess.SessionKey, message); err != nil {
		return fmt.Errorf("steer %s: %w", agentID, err)
	}
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushHuman, Status: models.AgentStateActive, Message: snippet(message)})
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityStatus, Text: "steered: " + snippet(message)})
	e.syncStreams(context.WithoutCancel(ctx), r)
	return nil
}

// KillAgent deletes an agent's session. Its unfinished tasks are blocked and
// it counts as finished so the mission can still complete.
func (e *Engine) KillAgent(ctx context.Context, agentID string) error {
	r := e.current()
	if r == nil {
		return ErrNoMission
	}
	if _, ok := r.member(agentID); !ok {
		return fmt.Errorf("kill %s: %w", agentID, ErrUnknownAgent)
	}
	key := e.doneKey(agentID)
	err := e.sessions.KillSession(ctx, agentID)
	// The session is untracked even when the delete fails; close its stream now.
	e.syncStreams(context.WithoutCancel(ctx), r)
	if err != nil {
		return fmt.Errorf("kill %s: %w", agentID, err)
	}
	blocked := r.board.BlockAgent(agentID)
	e.detector.MarkDone(key)
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushHuman, Status: models.AgentStateNone, Message: "killed"})
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivitySystem, Text: fmt.Sprintf("agent killed, %d tasks blocked", blocked)})
	e.detector.Check(r.tok)
	return nil
}

// Redispatch resets an agent's tasks and sends them again under a fresh
// idempotency key. The agent must signal completion again.
func (e *Engine) Redispatch(ctx context.Context, agentID string) error {
	r := e.current()
	if r == nil {
		return ErrNoMission
	}
	if _, ok := r.member(agentID); !ok {
		return fmt.Errorf("redispatch %s: %w", agentID, ErrUnknownAgent)
	}
	e.detector.Unmark(e.doneKey(agentID))
	e.status.Push(status.Push{AgentID: agentID, Kind: status.PushHuman, Status: models.AgentStateActive, Message: "redispatched"})
	if err := r.dispatcher.Redispatch(context.WithoutCancel(ctx), r.tok, r.plan(), agentID); err != nil {
		return fmt.Errorf("redispatch %s: %w", agentID, err)
	}
	e.record(models.ActivityEvent{AgentID: agentID, Kind: models.ActivityDispatch, Text: "redispatched"})
	e.syncStreams(context.WithoutCancel(ctx), r)
	return nil
}

// Resumable returns a running checkpoint left behind by an earlier process, or nil.
func (e *Engine) Resumable(ctx context.Context) (*models.MissionCheckpoint, error) {
	if e.current() != nil {
		return nil, nil
	}
	return e.checkpoints.Resumable(ctx)
}

// AbortStale archives a leftover running checkpoint as aborted.
func (e *Engine) AbortStale(ctx context.Context) (*models.MissionCheckpoint, error) {
	if e.current() != nil {
		return nil, fmt.Errorf("abort stale checkpoint: a mission is running")
	}
	return e.checkpoints.AbortStale(ctx)
}

// History lists archived mission checkpoints, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]models.MissionCheckpoint, error) {
	return e.checkpoints.History(ctx, limit)
}

// Reports lists stored mission reports, newest first. Without a store only
// the last report of this process is returned.
func (e *Engine) Reports(ctx context.Context, limit int) ([]models.MissionReport, error) {
	if e.st == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastReport == nil {
			return nil, nil
		}
		return []models.MissionReport{*e.lastReport}, nil
	}
	return e.st.ListReports(ctx, limit)
}

// Report returns a report by report id or mission id.
func (e *Engine) Report(ctx context.Context, id string) (*models.MissionReport, error) {
	e.mu.Lock()
	last := e.lastReport
	e.mu.Unlock()
	if last != nil && (last.ID == id || last.MissionID == id) {
		cp := *last
		return &cp, nil
	}
	if e.st == nil {
		return nil, fmt.Errorf("report %w: %s", store.ErrNotFound, id)
	}
	return e.st.GetReport(ctx, id)
}
