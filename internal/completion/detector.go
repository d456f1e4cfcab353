// Package completion decides when a mission has finished.
//
// Two paths can finish a mission: every agent emitting an explicit
// completion signal, or every agent reaching a terminal status. Either path
// is suppressed while any agent is waiting for input, and both wait a settle
// delay so trailing output reaches the buffers before the mission stops.
package completion

import (
	"log/slog"
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// Reason names the path that completed a mission.
type Reason string

const (
	ReasonSignals  Reason = "signals"
	ReasonStatuses Reason = "statuses"
)

// StatusView is the read side of the status reconciler.
type StatusView interface {
	Snapshot(agentIDs []string) []models.AgentStatus
	AnyWaiting() bool
}

// CompleteFunc is called once per mission when completion is confirmed.
type CompleteFunc func(tok generation.Token, reason Reason)

// Detector tracks completion signals for one mission at a time.
type Detector struct {
	status     StatusView
	onComplete CompleteFunc
	settle     time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	agents     []string
	expected   int
	done       map[string]bool
	armed      bool
	seenActive bool
	settling   bool
	fired      bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithSettleDelay sets how long to wait before confirming completion.
func WithSettleDelay(d time.Duration) Option {
	return func(dt *Detector) { dt.settle = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(dt *Detector) { dt.logger = l }
}

// New creates a Detector.
func New(status StatusView, onComplete CompleteFunc, opts ...Option) *Detector {
	d := &Detector{
		status:     status,
		onComplete: onComplete,
		settle:     5 * time.Second,
		logger:     slog.Default(),
		done:       map[string]bool{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Reset starts tracking a new mission over agentIDs.
func (d *Detector) Reset(agentIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents = append([]string(nil), agentIDs...)
	d.expected = len(agentIDs)
	d.done = map[string]bool{}
	d.armed = false
	d.seenActive = false
	d.settling = false
	d.fired = false
}

// MarkDone records a completion signal for sessionKey and returns the
// number of distinct signals so far.
func (d *Detector) MarkDone(sessionKey string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sessionKey != "" {
		d.done[sessionKey] = true
	}
	return len(d.done)
}

// Unmark withdraws the completion signal of an agent that was sent new work.
func (d *Detector) Unmark(sessionKey string) {
	d.mu.Lock()
	delete(d.done, sessionKey)
	d.mu.Unlock()
}

// DoneCount returns the number of distinct completion signals.
func (d *Detector) DoneCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.done)
}

// Arm enables the status-based path. Called once dispatch has finished.
func (d *Detector) Arm() {
	d.mu.Lock()
	d.armed = true
	d.mu.Unlock()
}

// Observe latches that some agent was seen active.
func (d *Detector) Observe(state models.AgentState) {
	if state != models.AgentStateActive {
		return
	}
	d.mu.Lock()
	d.seenActive = true
	d.mu.Unlock()
}

// Ready reports whether the mission meets a completion condition right now.
func (d *Detector) Ready() (bool, Reason) {
	d.mu.Lock()
	agents := d.agents
	expected := d.expected
	doneCount := len(d.done)
	d.mu.Unlock()

	if expected == 0 {
		return false, ""
	}
	if d.status.AnyWaiting() {
		return false, ""
	}
	if doneCount >= expected {
		return true, ReasonSignals
	}

	snap := d.status.Snapshot(agents)
	allTerminal := len(snap) > 0
	for _, s := range snap {
		d.Observe(s.Status)
		if !s.Status.Terminal() {
			allTerminal = false
		}
	}

	d.mu.Lock()
	safetyNet := d.armed && d.seenActive
	d.mu.Unlock()
	if safetyNet && allTerminal {
		return true, ReasonStatuses
	}
	return false, ""
}

// Check starts the settle timer when the mission is ready. After the delay
// the condition and tok are checked again and onComplete runs at most once
// per mission.
func (d *Detector) Check(tok generation.Token) {
	if tok.Stale() {
		return
	}
	ok, reason := d.Ready()
	if !ok {
		return
	}
	d.mu.Lock()
	if d.settling || d.fired {
		d.mu.Unlock()
		return
	}
	d.settling = true
	d.mu.Unlock()

	d.logger.Debug("mission settling", "reason", reason, "delay", d.settle)
	time.AfterFunc(d.settle, func() { d.confirm(tok) })
}

func (d *Detector) confirm(tok generation.Token) {
	if tok.Stale() {
		return
	}
	ok, reason := d.Ready()

	d.mu.Lock()
	d.settling = false
	if !ok || d.fired {
		d.mu.Unlock()
		if !ok {
			d.logger.Debug("completion withdrawn during settle")
		}
		return
	}
	d.fired = true
	d.mu.Unlock()

	d.logger.Info("mission complete", "reason", reason)
	if d.onComplete != nil {
		d.onComplete(tok, reason)
	}
}

// Fired reports whether completion has been confirmed for the current mission.
func (d *Detector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}
