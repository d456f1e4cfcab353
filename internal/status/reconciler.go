package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// ChangeFunc is called after an agent's status changes.
type ChangeFunc func(agentID string, from, to models.AgentState)

// Reconciler is the single owner of the authoritative status map.
type Reconciler struct {
	windows  Windows
	now      func() time.Time
	logger   *slog.Logger
	onChange ChangeFunc

	mu    sync.Mutex
	state State
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithWindows overrides the recency thresholds.
func WithWindows(w Windows) Option {
	return func(r *Reconciler) { r.windows = w }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithOnChange registers a status change callback. It runs outside the lock.
func WithOnChange(fn ChangeFunc) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		windows: DefaultWindows(),
		now:     time.Now,
		logger:  slog.Default(),
		state:   State{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reset clears all statuses.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.state = State{}
	r.mu.Unlock()
}

// Push applies pushed signals.
func (r *Reconciler) Push(pushes ...Push) {
	r.apply(pushes, nil)
}

// ApplyPoll merges a poll of session records. keys maps agent id to session key.
func (r *Reconciler) ApplyPoll(records []gateway.Session, keys map[string]string) {
	obs := MatchPoll(records, keys, r.now(), r.windows)
	r.apply(nil, obs)
}

// Poll lists sessions on the gateway and merges the result. A stale
// generation discards the result. Errors leave the state untouched.
func (r *Reconciler) Poll(ctx context.Context, tok generation.Token, gw gateway.Client, keys map[string]string) error {
	if tok.Stale() {
		return nil
	}
	records, err := gw.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("poll sessions: %w", err)
	}
	if tok.Stale() {
		return nil
	}
	r.ApplyPoll(records, keys)
	return nil
}

func (r *Reconciler) apply(pushes []Push, poll map[string]Observation) {
	type change struct {
		id       string
		from, to models.AgentState
	}
	var changes []change

	r.mu.Lock()
	prev := r.state
	next := Merge(prev, pushes, poll, r.now(), r.windows)
	for id, e := range next {
		from, to := prev[id].Status, e.Status
		if from == "" {
			from = models.AgentStateNone
		}
		if to == "" {
			to = models.AgentStateNone
		}
		if to != from {
			changes = append(changes, change{id, from, to})
		}
	}
	r.state = next
	r.mu.Unlock()

	for _, c := range changes {
		r.logger.Debug("agent status changed", "agent", c.id, "from", c.from, "to", c.to)
		if r.onChange != nil {
			r.onChange(c.id, c.from, c.to)
		}
	}
}

// Status returns an agent's status, or none when unknown.
func (r *Reconciler) Status(agentID string) models.AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.state[agentID]; ok && e.Status != "" {
		return e.Status
	}
	return models.AgentStateNone
}

// Entry returns the full entry for an agent.
func (r *Reconciler) Entry(agentID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.state[agentID]
	return e, ok
}

// Snapshot returns the statuses of the given agents, in order. Unknown agents are none.
func (r *Reconciler) Snapshot(agentIDs []string) []models.AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AgentStatus, 0, len(agentIDs))
	for _, id := range agentIDs {
		e := r.state[id]
		st := e.Status
		if st == "" {
			st = models.AgentStateNone
		}
		out = append(out, models.AgentStatus{AgentID: id, Status: st, LastSeen: e.LastSeen, LastMessage: e.LastMessage})
	}
	return out
}

// AnyWaiting reports whether any agent is waiting for input.
func (r *Reconciler) AnyWaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.state {
		if e.Status == models.AgentStateWaitingForInput {
			return true
		}
	}
	return false
}
