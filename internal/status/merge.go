// Package status reconciles pushed stream signals with polled session
// metadata into one authoritative status per agent.
package status

import (
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// Windows are the recency thresholds used to derive status from a poll.
type Windows struct {
	Active       time.Duration // younger than this is active
	Idle         time.Duration // younger than this is idle, older is stopped
	MissingGrace time.Duration // how long an absent session keeps its last status
}

// DefaultWindows returns the standard thresholds.
func DefaultWindows() Windows {
	return Windows{Active: 30 * time.Second, Idle: 300 * time.Second, MissingGrace: 60 * time.Second}
}

// Entry is the reconciled view of one agent.
type Entry struct {
	Status       models.AgentState
	LastSeen     time.Time
	LastPush     time.Time
	LastMessage  string
	MissingSince time.Time

	// StreamCompleted is set when the stream reported a completed turn. A poll
	// may not move such an agent back to active.
	StreamCompleted bool

	// Pinned marks an error written by the dispatch-failure path. Only a
	// human override clears it.
	Pinned bool
}

// State maps agent id to Entry.
type State map[string]Entry

// Clone returns a copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// PushKind is the kind of pushed signal.
type PushKind int

const (
	// PushActivity is stream activity (open, chunk, tool).
	PushActivity PushKind = iota
	// PushTurnCompleted is a classified turn end that finished work.
	PushTurnCompleted
	// PushWaiting is a classified turn end that needs human input.
	PushWaiting
	// PushError is a stream error event.
	PushError
	// PushFailure is a dispatch failure. It pins the error.
	PushFailure
	// PushHuman is an explicit human action (steer, approve, deny). It sets
	// Status directly and clears pinning and stream completion.
	PushHuman
)

// Push is one pushed signal.
type Push struct {
	AgentID string
	Kind    PushKind
	Status  models.AgentState // used by PushHuman
	Message string
	At      time.Time
}

// Observation is one agent's poll result.
type Observation struct {
	Present     bool
	Status      models.AgentState
	UpdatedAt   time.Time
	LastMessage string
}

// Derive computes a status from a session record's recency.
func Derive(s gateway.Session, now time.Time, w Windows) models.AgentState {
	if s.Error != "" || s.Status == "error" {
		return models.AgentStateError
	}
	if s.UpdatedAt.IsZero() {
		return models.AgentStateIdle
	}
	age := now.Sub(s.UpdatedAt)
	switch {
	case age < w.Active:
		return models.AgentStateActive
	case age < w.Idle:
		return models.AgentStateIdle
	default:
		return models.AgentStateStopped
	}
}

// MatchPoll matches polled sessions to agents by session key. Every agent
// in keys gets an observation; agents whose key is absent are not Present.
func MatchPoll(records []gateway.Session, keys map[string]string, now time.Time, w Windows) map[string]Observation {
	byKey := make(map[string]gateway.Session, len(records))
	for _, r := range records {
		byKey[r.Key] = r
	}
	out := make(map[string]Observation, len(keys))
	for agentID, key := range keys {
		r, ok := byKey[key]
		if !ok {
			out[agentID] = Observation{}
			continue
		}
		out[agentID] = Observation{
			Present:     true,
			Status:      Derive(r, now, w),
			UpdatedAt:   r.UpdatedAt,
			LastMessage: r.LastMessage,
		}
	}
	return out
}

// Merge folds pushed signals and an optional poll into prev and returns the
// next state. prev is not modified. A nil poll means no poll this round.
//
// Precedence:
//   - a stream-completed idle agent is not moved back to active by a poll
//   - waiting_for_input only yields to a push, a human action or an active
//     poll whose activity is newer than the waiting verdict
//   - an agent absent from the poll keeps its status for MissingGrace, then is stopped
//   - a pinned error only yields to a human action
func Merge(prev State, pushes []Push, poll map[string]Observation, now time.Time, w Windows) State {
	next := prev.Clone()
	for _, p := range pushes {
		e := next[p.AgentID]
		if p.At.IsZero() {
			p.At = now
		}
		if p.At.Before(e.LastPush) && p.Kind != PushHuman {
			continue
		}
		next[p.AgentID] = applyPush(e, p)
	}
	for agentID, obs := range poll {
		next[agentID] = applyPoll(next[agentID], obs, now, w)
	}
	return next
}

func applyPush(e Entry, p Push) Entry {
	if p.Kind == PushHuman {
		e.Pinned = false
		e.StreamCompleted = false
		e.Status = p.Status
		e.LastSeen = p.At
		e.LastPush = p.At
		e.MissingSince = time.Time{}
		if p.Message != "" {
			e.LastMessage = p.Message
		}
		return e
	}
	if e.Pinned {
		return e
	}

	e.LastSeen = p.At
	e.LastPush = p.At
	e.MissingSince = time.Time{}
	if p.Message != "" {
		e.LastMessage = p.Message
	}
	switch p.Kind {
	case PushActivity:
		e.Status = models.AgentStateActive
		e.StreamCompleted = false
	case PushTurnCompleted:
		e.Status = models.AgentStateIdle
		e.StreamCompleted = true
	case PushWaiting:
		e.Status = models.AgentStateWaitingForInput
		e.StreamCompleted = false
	case PushError:
		e.Status = models.AgentStateError
	case PushFailure:
		e.Status = models.AgentStateError
		e.Pinned = true
	}
	return e
}

func applyPoll(e Entry, obs Observation, now time.Time, w Windows) Entry {
	if !obs.Present {
		if e.MissingSince.IsZero() {
			e.MissingSince = now
		}
		if e.Pinned || e.Status == models.AgentStateWaitingForInput {
			return e
		}
		if now.Sub(e.MissingSince) >= w.MissingGrace {
			e.Status = models.AgentStateStopped
		}
		return e
	}

	e.MissingSince = time.Time{}
	if obs.UpdatedAt.After(e.LastSeen) {
		e.LastSeen = obs.UpdatedAt
	}
	if obs.LastMessage != "" {
		e.LastMessage = obs.LastMessage
	}
	if e.Pinned {
		return e
	}

	if e.Status == models.AgentStateWaitingForInput {
		// Only activity newer than the waiting verdict counts as active.
		if obs.Status != models.AgentStateActive || !obs.UpdatedAt.After(e.LastPush) {
			return e
		}
	}
	if e.StreamCompleted && obs.Status == models.AgentStateActive {
		return e
	}
	e.Status = obs.Status
	return e
}
