package mission

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/status"
)

// addApproval queues a pending request unless an equivalent one is already known.
func (e *Engine) addApproval(r *run, a models.ApprovalRequest) bool {
	if m, ok := r.member(a.AgentID); ok {
		a.AgentName = m.Name
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = e.now().UTC()
	}
	a.ID = ulid.Make().String()
	a.Status = models.ApprovalPending

	e.mu.Lock()
	for _, ex := range e.approvals {
		if a.GatewayID != "" && ex.GatewayID == a.GatewayID {
			e.mu.Unlock()
			return false
		}
		if a.GatewayID == "" && ex.Status == models.ApprovalPending && ex.AgentID == a.AgentID && strings.EqualFold(ex.Action, a.Action) {
			e.mu.Unlock()
			return false
		}
	}
	cp := a
	e.approvals[a.ID] = &cp
	e.mu.Unlock()

	if e.st != nil {
		if err := e.st.SaveApproval(context.Background(), r.id, &a); err != nil {
			e.logger.Warn("save approval failed", "approval", a.ID, "error", err)
		}
	}
	e.record(models.ActivityEvent{AgentID: a.AgentID, Kind: models.ActivityApproval, Text: "approval requested: " + a.Action})
	e.logger.Info("approval requested", "mission", r.id, "agent", a.AgentID, "source", a.Source, "action", a.Action)
	return true
}

// pollApprovals pulls gateway-side approvals that belong to this mission's agents.
func (e *Engine) pollApprovals(ctx context.Context, r *run) {
	list, err := e.gw.ListApprovals(ctx)
	if err != nil {
		e.logger.Debug("list gateway approvals failed", "error", err)
		return
	}
	if r.tok.Stale() {
		return
	}
	for _, ga := range list {
		agentID := ga.AgentID
		if agentID == "" {
			agentID, _ = e.sessions.AgentForKey(ga.SessionKey)
		}
		if _, ok := r.member(agentID); !ok {
			continue
		}
		added := e.addApproval(r, models.ApprovalRequest{
			AgentID:     agentID,
			Action:      ga.Action,
			Context:     ga.Context,
			RequestedAt: ga.RequestedAt,
			Source:      models.ApprovalSourceGateway,
			GatewayID:   ga.ID,
		})
		if added {
			e.status.Push(status.Push{AgentID: agentID, Kind: status.PushWaiting, Message: snippet("approval: " + ga.Action)})
		}
	}
}

// ListApprovals returns the mission's approval requests with the given
// status, oldest first. An empty status returns all of them.
func (e *Engine) ListApprovals(st models.ApprovalStatus) []models.ApprovalRequest {
	e.mu.Lock()
	out := make([]models.ApprovalRequest, 0, len(e.approvals))
	for _, a := range e.approvals {
		if st == "" || a.Status == st {
			out = append(out, *a)
		}
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b models.ApprovalRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Approve grants a pending approval.
func (e *Engine) Approve(ctx context.Context, id string) (models.ApprovalRequest, error) {
	return e.resolve(ctx, id, true)
}

// Deny rejects a pending approval.
func (e *Engine) Deny(ctx context.Context, id string) (models.ApprovalRequest, error) {
	return e.resolve(ctx, id, false)
}

func (e *Engine) resolve(ctx context.Context, id string, approve bool) (models.ApprovalRequest, error) {
	e.mu.Lock()
	a, ok := e.approvals[id]
	if !ok {
		e.mu.Unlock()
		return models.ApprovalRequest{}, fmt.Errorf("resolve %s: %w", id, ErrUnknownApproval)
	}
	req := *a
	e.mu.Unlock()
	if req.Status != models.ApprovalPending {
		return req, fmt.Errorf("approval %s already %s", id, req.Status)
	}

	r := e.current()
	switch req.Source {
	case models.ApprovalSourceGateway:
		if err := e.gw.ResolveApproval(ctx, req.GatewayID, approve); err != nil {
			return req, fmt.Errorf("resolve gateway approval %s: %w", req.GatewayID, err)
		}
	default:
		if r == nil {
			return req, ErrNoMission
		}
		sess, ok := e.sessions.Session(req.AgentID)
		if !ok {
			return req, fmt.Errorf("resolve %s: agent %s has no session", id, req.AgentID)
		}
		if err := e.gw.Send(ctx, sess.SessionKey, Directive(req.Action, approve)); err != nil {
			return req, fmt.Errorf("send decision to %s: %w", req.AgentID, err)
		}
	}

	next := models.ApprovalDenied
	verb := "denied"
	if approve {
		next = models.ApprovalApproved
		verb = "approved"
	}
	e.mu.Lock()
	a.Status = next
	req = *a
	e.mu.Unlock()

	if e.st != nil {
		if err := e.st.ResolveApproval(ctx, id, next); err != nil {
			e.logger.Warn("persist approval decision failed", "approval", id, "error", err)
		}
	}
	if r != nil {
		if _, ok := r.member(req.AgentID); ok {
			e.status.Push(status.Push{AgentID: req.AgentID, Kind: status.PushHuman, Status: models.AgentStateActive, Message: verb, At: time.Now()})
		}
	}
	e.record(models.ActivityEvent{AgentID: req.AgentID, Kind: models.ActivityApproval, Text: verb + ": " + req.Action})
	return req, nil
}

// Directive is the message sent to an agent when a human decides on its request.
func Directive(action string, approve bool) string {
	if approve {
		return "[APPROVED] You may proceed with: " + action
	}
	return "[DENIED] Do not proceed with: " + action + ". Continue with the rest of your tasks without it."
}
