// Package sessions owns the per-agent gateway sessions of a mission.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// SessionStore is the subset of store.Store the manager persists through.
type SessionStore interface {
	SaveAgentSession(ctx context.Context, missionID string, s models.AgentSession) error
}

// Manager ensures each team member has exactly one gateway session.
type Manager struct {
	gw           gateway.Client
	store        SessionStore
	defaultModel string
	logger       *slog.Logger
	onReady      func(models.AgentSession)

	mu        sync.RWMutex
	missionID string
	sessions  map[string]models.AgentSession // by agent id
	states    map[string]models.SpawnState
	errs      map[string]string
	inflight  map[string]bool // agent ids with a spawn in progress
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists the agent session map.
func WithStore(s SessionStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithDefaultModel sets the model used for members without one.
func WithDefaultModel(model string) Option {
	return func(m *Manager) { m.defaultModel = model }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithOnReady registers a callback run as soon as an agent's session is known.
func WithOnReady(fn func(models.AgentSession)) Option {
	return func(m *Manager) { m.onReady = fn }
}

// NewManager creates a new session manager.
func NewManager(gw gateway.Client, opts ...Option) *Manager {
	m := &Manager{
		gw:       gw,
		logger:   slog.Default(),
		sessions: map[string]models.AgentSession{},
		states:   map[string]models.SpawnState{},
		errs:     map[string]string{},
		inflight: map[string]bool{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses runs of non-alphanumerics to '-'.
func Slug(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Label is the deterministic gateway label for an agent.
func Label(member models.TeamMember) string {
	name := Slug(member.Name)
	if name == "" {
		name = Slug(member.ID)
	}
	return "mission-" + name
}

// ResolveModel picks the member's model, then the default. Empty means the gateway default.
func ResolveModel(member models.TeamMember, defaultModel string) string {
	if member.ModelID != "" {
		return member.ModelID
	}
	return defaultModel
}

// Reset forgets all tracked sessions and starts tracking for missionID.
func (m *Manager) Reset(missionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missionID = missionID
	m.sessions = map[string]models.AgentSession{}
	m.states = map[string]models.SpawnState{}
	m.errs = map[string]string{}
	m.inflight = map[string]bool{}
}

// Restore seeds the map from a checkpoint.
func (m *Manager) Restore(missionID string, sessions map[string]models.AgentSession) {
	m.Reset(missionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range sessions {
		m.sessions[id] = s
		m.states[id] = models.SpawnStateReady
	}
}

// Session returns the tracked session for an agent.
func (m *Manager) Session(agentID string) (models.AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[agentID]
	return s, ok
}

// Sessions returns a snapshot of the session map.
func (m *Manager) Sessions() map[string]models.AgentSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.AgentSession, len(m.sessions))
	for k, v := range m.sessions {
		out[k] = v
	}
	return out
}

// AgentForKey returns the agent holding sessionKey.
func (m *Manager) AgentForKey(sessionKey string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, s := range m.sessions {
		if s.SessionKey == sessionKey {
			return id, true
		}
	}
	return "", false
}

// SpawnState returns the spawn state of an agent and the last spawn error, if any.
func (m *Manager) SpawnState(agentID string) (models.SpawnState, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[agentID]
	if !ok {
		st = models.SpawnStateNone
	}
	return st, m.errs[agentID]
}

// EnsureSessions makes sure every member has a session, reusing gateway
// sessions that already carry the member's label. Spawns run concurrently;
// each success is published as soon as it lands. A failed spawn marks only
// that agent as errored. The returned error joins per-agent failures.
func (m *Manager) EnsureSessions(ctx context.Context, tok generation.Token, team []models.TeamMember) error {
	var pending []models.TeamMember
	m.mu.Lock()
	for _, member := range team {
		if _, ok := m.sessions[member.ID]; ok || m.inflight[member.ID] {
			continue
		}
		m.inflight[member.ID] = true
		m.states[member.ID] = models.SpawnStateSpawning
		delete(m.errs, member.ID)
		pending = append(pending, member)
	}
	m.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	existing, err := m.gw.ListSessions(ctx)
	if err != nil {
		m.logger.Warn("list sessions before spawn failed", "error", err)
	}
	if tok.Stale() {
		m.release(pending)
		return nil
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	for _, member := range pending {
		g.Go(func() error {
			if err := m.ensureOne(ctx, tok, member, existing); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("agent %s: %w", member.ID, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *Manager) release(members []models.TeamMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.inflight, member.ID)
		if m.states[member.ID] == models.SpawnStateSpawning {
			m.states[member.ID] = models.SpawnStateNone
		}
	}
}

func (m *Manager) ensureOne(ctx context.Context, tok generation.Token, member models.TeamMember, existing []gateway.Session) error {
	label := Label(member)
	model := ResolveModel(member, m.defaultModel)

	if s, ok := m.findReusable(label, member.ID, existing); ok {
		return m.publish(ctx, tok, member.ID, models.AgentSession{
			AgentID: member.ID, SessionKey: s.Key, ModelUsed: s.Model, Label: label, Reused: true,
		})
	}

	res, err := m.gw.SpawnSession(ctx, gateway.SpawnRequest{FriendlyID: member.ID, Label: label, Model: model})
	var se *gateway.StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		// Label already taken on the gateway; adopt it.
		if fresh, lerr := m.gw.ListSessions(ctx); lerr == nil {
			if s, ok := m.findReusable(label, member.ID, fresh); ok {
				return m.publish(ctx, tok, member.ID, models.AgentSession{
					AgentID: member.ID, SessionKey: s.Key, ModelUsed: s.Model, Label: label, Reused: true,
				})
			}
		}
	}
	if tok.Stale() {
		m.release([]models.TeamMember{member})
		return nil
	}
	if err != nil {
		m.fail(member.ID, err)
		return err
	}

	used := res.ModelApplied
	if used == "" {
		used = model
	}
	return m.publish(ctx, tok, member.ID, models.AgentSession{
		AgentID: member.ID, SessionKey: res.SessionKey, ModelUsed: used, Label: label,
	})
}

// findReusable returns a listed session with label not already held by another agent.
func (m *Manager) findReusable(label, agentID string, list []gateway.Session) (gateway.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range list {
		if s.Label != label {
			continue
		}
		if owner, held := m.ownerLocked(s.Key); held && owner != agentID {
			continue
		}
		return s, true
	}
	return gateway.Session{}, false
}

func (m *Manager) ownerLocked(key string) (string, bool) {
	for id, s := range m.sessions {
		if s.SessionKey == key {
			return id, true
		}
	}
	return "", false
}

func (m *Manager) publish(ctx context.Context, tok generation.Token, agentID string, s models.AgentSession) error {
	m.mu.Lock()
	if tok.Stale() {
		delete(m.inflight, agentID)
		m.mu.Unlock()
		return nil
	}
	if owner, held := m.ownerLocked(s.SessionKey); held && owner != agentID {
		m.mu.Unlock()
		err := fmt.Errorf("session %s already held by agent %s", s.SessionKey, owner)
		m.fail(agentID, err)
		return err
	}
	m.sessions[agentID] = s
	m.states[agentID] = models.SpawnStateReady
	delete(m.inflight, agentID)
	missionID := m.missionID
	m.mu.Unlock()

	m.logger.Info("agent session ready", "agent", agentID, "session", s.SessionKey, "reused", s.Reused, "model", s.ModelUsed)
	if m.store != nil {
		if err := m.store.SaveAgentSession(ctx, missionID, s); err != nil {
			m.logger.Warn("persist agent session failed", "agent", agentID, "error", err)
		}
	}
	if m.onReady != nil {
		m.onReady(s)
	}
	return nil
}

func (m *Manager) fail(agentID string, err error) {
	m.mu.Lock()
	m.states[agentID] = models.SpawnStateError
	m.errs[agentID] = err.Error()
	delete(m.inflight, agentID)
	m.mu.Unlock()
	m.logger.Warn("agent session spawn failed", "agent", agentID, "error", err)
}

// KillSession aborts any in-flight generation and deletes the agent's
// session. An agent without a session is a no-op.
func (m *Manager) KillSession(ctx context.Context, agentID string) error {
	m.mu.Lock()
	s, ok := m.sessions[agentID]
	if ok {
		delete(m.sessions, agentID)
		m.states[agentID] = models.SpawnStateNone
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.gw.Abort(ctx, s.SessionKey); err != nil {
		m.logger.Debug("abort before delete failed", "agent", agentID, "error", err)
	}
	if err := m.gw.DeleteSession(ctx, s.SessionKey); err != nil && !errors.Is(err, gateway.ErrSessionNotFound) {
		return fmt.Errorf("delete session for %s: %w", agentID, err)
	}
	m.logger.Info("agent session killed", "agent", agentID, "session", s.SessionKey)
	return nil
}

// KillAll kills every tracked session, concurrently.
func (m *Manager) KillAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.KillSession(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
