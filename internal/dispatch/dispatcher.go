// Package dispatch sends task bundles to agents under a mission topology
// and owns task status through a Board.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// CoordinateTaskTitle is the title of the lead's synthetic task in hierarchical missions.
const CoordinateTaskTitle = "Coordinate the team"

// SessionLookup resolves an agent's session.
type SessionLookup interface {
	Session(agentID string) (models.AgentSession, bool)
}

// Hooks receive dispatch outcomes. Both run after the board is updated.
type Hooks interface {
	Dispatched(agentID string, tasks []models.Task)
	DispatchFailed(agentID string, err error)
}

// Plan is one mission's dispatch input.
type Plan struct {
	MissionID string
	Goal      string
	Topology  models.Topology
	Team      []models.TeamMember
}

// Dispatcher sends task bundles to agents.
type Dispatcher struct {
	gw       gateway.Client
	board    *Board
	sessions SessionLookup
	hooks    Hooks
	stagger  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	used map[string]bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStagger sets the delay between agents in sequential missions.
func WithStagger(d time.Duration) Option {
	return func(ds *Dispatcher) { ds.stagger = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ds *Dispatcher) { ds.logger = l }
}

// New creates a Dispatcher.
func New(gw gateway.Client, board *Board, sessions SessionLookup, hooks Hooks, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gw:       gw,
		board:    board,
		sessions: sessions,
		hooks:    hooks,
		stagger:  30 * time.Second,
		logger:   slog.Default(),
		used:     map[string]bool{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type group struct {
	member models.TeamMember
	tasks  []models.Task
	prefix string
	brief  string
}

// groups returns the team members that have tasks, in team order.
func (d *Dispatcher) groups(team []models.TeamMember) []group {
	var out []group
	for _, m := range team {
		tasks := d.board.ForAgent(m.ID)
		if len(tasks) > 0 {
			out = append(out, group{member: m, tasks: tasks})
		}
	}
	return out
}

// Dispatch sends every agent its tasks under plan.Topology. It returns
// early and silently when tok goes stale or ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, tok generation.Token, plan Plan) error {
	if tok.Stale() {
		return nil
	}
	switch plan.Topology {
	case models.TopologySequential:
		return d.sequential(ctx, tok, plan)
	case models.TopologyHierarchical:
		return d.hierarchical(ctx, tok, plan)
	case models.TopologyParallel, "":
		return d.parallel(ctx, tok, plan, d.groups(plan.Team))
	default:
		return fmt.Errorf("unknown topology %q", plan.Topology)
	}
}

func (d *Dispatcher) sequential(ctx context.Context, tok generation.Token, plan Plan) error {
	for i, g := range d.groups(plan.Team) {
		if i > 0 && d.stagger > 0 {
			select {
			case <-time.After(d.stagger):
			case <-ctx.Done():
				return nil
			}
		}
		if tok.Stale() {
			return nil
		}
		d.send(ctx, tok, plan, g, uuid.NewString())
	}
	return nil
}

func (d *Dispatcher) hierarchical(ctx context.Context, tok generation.Token, plan Plan) error {
	if len(plan.Team) == 0 {
		return nil
	}
	lead := plan.Team[0]
	if len(d.board.ForAgent(lead.ID)) == 0 {
		now := time.Now().UTC()
		d.board.Add(models.Task{
			ID:          ulid.Make().String(),
			Title:       CoordinateTaskTitle,
			Description: "Brief the team on the mission goal, track their progress and consolidate the results.",
			Priority:    models.TaskPriorityHigh,
			Status:      models.TaskStatusAssigned,
			AgentID:     lead.ID,
			MissionID:   plan.MissionID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	groups := d.groups(plan.Team)
	var members []group
	for _, g := range groups {
		if g.member.ID == lead.ID {
			g.brief = roster(lead, plan.Team)
			d.send(ctx, tok, plan, g, uuid.NewString())
			continue
		}
		g.prefix = "[Delegated by " + lead.Name + "] "
		members = append(members, g)
	}
	if tok.Stale() {
		return nil
	}
	return d.parallel(ctx, tok, plan, members)
}

func (d *Dispatcher) parallel(ctx context.Context, tok generation.Token, plan Plan, groups []group) error {
	var g errgroup.Group
	for _, grp := range groups {
		g.Go(func() error {
			d.send(ctx, tok, plan, grp, uuid.NewString())
			return nil
		})
	}
	return g.Wait()
}

// Redispatch resets the agent's tasks and sends them again with a fresh idempotency key.
func (d *Dispatcher) Redispatch(ctx context.Context, tok generation.Token, plan Plan, agentID string) error {
	if len(d.board.ForAgent(agentID)) == 0 {
		return fmt.Errorf("agent %s has no tasks", agentID)
	}
	d.board.Redispatch(agentID)
	return d.DispatchAgent(ctx, tok, plan, agentID, uuid.NewString())
}

// DispatchAgent sends one agent its current tasks under key. Reusing a key is a no-op.
func (d *Dispatcher) DispatchAgent(ctx context.Context, tok generation.Token, plan Plan, agentID, key string) error {
	for _, m := range plan.Team {
		if m.ID == agentID {
			d.send(ctx, tok, plan, group{member: m, tasks: d.board.ForAgent(agentID)}, key)
			return nil
		}
	}
	return fmt.Errorf("agent %s is not on the team", agentID)
}

// send dispatches one agent's bundle. A key that was already used is a no-op.
func (d *Dispatcher) send(ctx context.Context, tok generation.Token, plan Plan, g group, key string) {
	if tok.Stale() {
		return
	}
	d.mu.Lock()
	if d.used[key] {
		d.mu.Unlock()
		d.logger.Debug("duplicate dispatch suppressed", "agent", g.member.ID, "key", key)
		return
	}
	d.used[key] = true
	d.mu.Unlock()

	ids := make([]string, len(g.tasks))
	for i, t := range g.tasks {
		ids[i] = t.ID
	}

	sess, ok := d.sessions.Session(g.member.ID)
	if !ok {
		d.fail(g.member.ID, ids, fmt.Errorf("agent %s has no session", g.member.ID))
		return
	}

	err := d.gw.Dispatch(ctx, gateway.DispatchRequest{
		SessionKey:     sess.SessionKey,
		Message:        g.prefix + BuildMessage(plan.Goal, g.member, g.tasks, g.brief),
		AgentID:        g.member.ID,
		IdempotencyKey: key,
	})
	if tok.Stale() {
		return
	}
	if err != nil {
		d.fail(g.member.ID, ids, err)
		return
	}
	d.board.Advance(ids, models.TaskStatusInProgress)
	d.logger.Info("tasks dispatched", "agent", g.member.ID, "tasks", len(ids), "key", key)
	if d.hooks != nil {
		d.hooks.Dispatched(g.member.ID, g.tasks)
	}
}

// fail forces the agent's tasks to done so the mission cannot stall on it.
func (d *Dispatcher) fail(agentID string, ids []string, err error) {
	d.board.Advance(ids, models.TaskStatusDone)
	d.logger.Warn("dispatch failed", "agent", agentID, "error", err)
	if d.hooks != nil {
		d.hooks.DispatchFailed(agentID, err)
	}
}

// BuildMessage renders the task bundle sent to one agent.
func BuildMessage(goal string, member models.TeamMember, tasks []models.Task, brief string) string {
	var sb strings.Builder
	sb.WriteString("Mission goal: ")
	sb.WriteString(strings.TrimSpace(goal))
	sb.WriteString("\n\n")

	sb.WriteString("You are ")
	sb.WriteString(member.Name)
	if member.RoleDescription != "" {
		sb.WriteString(", ")
		sb.WriteString(member.RoleDescription)
	}
	sb.WriteString(".\n")
	if member.Goal != "" {
		sb.WriteString("Your goal: ")
		sb.WriteString(member.Goal)
		sb.WriteString("\n")
	}
	if member.Backstory != "" {
		sb.WriteString("Background: ")
		sb.WriteString(member.Backstory)
		sb.WriteString("\n")
	}
	if brief != "" {
		sb.WriteString("\n")
		sb.WriteString(brief)
	}

	sb.WriteString("\nYour tasks:\n")
	for i, t := range tasks {
		fmt.Fprintf(&sb, "%d. %s", i+1, t.Title)
		if t.Description != "" && t.Description != t.Title {
			sb.WriteString(" - ")
			sb.WriteString(t.Description)
		}
		if t.Priority == models.TaskPriorityHigh {
			sb.WriteString(" (high priority)")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nWhen every task is finished, end your final message with [TASK_COMPLETE].")
	sb.WriteString(" If you need a decision from a human, end with [WAITING_FOR_INPUT].")
	sb.WriteString(" If an action needs approval first, write [APPROVAL_REQUIRED] followed by the action.")
	return sb.String()
}

func roster(lead models.TeamMember, team []models.TeamMember) string {
	var sb strings.Builder
	sb.WriteString("You lead this mission. Your team:\n")
	for _, m := range team {
		if m.ID == lead.ID {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(m.Name)
		if m.RoleDescription != "" {
			sb.WriteString(": ")
			sb.WriteString(m.RoleDescription)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
