// Package checkpoint persists the live mission snapshot and its archive.
// Storage failures are logged and swallowed: a mission keeps running in
// memory when the store is unavailable.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

// Store is the subset of store.Store used for checkpoints.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint) error
	CurrentCheckpoint(ctx context.Context) (*models.MissionCheckpoint, error)
	ClearCheckpoint(ctx context.Context) error
	ArchiveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint, keep int) error
	ListCheckpointHistory(ctx context.Context, limit int) ([]models.MissionCheckpoint, error)
}

// Manager owns the single current checkpoint.
type Manager struct {
	st     Store
	keep   int
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	cp *models.MissionCheckpoint
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimit bounds the archived checkpoint history.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.keep = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. st may be nil for an in-memory only mission.
func New(st Store, opts ...Option) *Manager {
	m := &Manager{
		st:     st,
		keep:   20,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start makes cp the current checkpoint and persists it.
func (m *Manager) Start(ctx context.Context, cp models.MissionCheckpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp.Status == "" {
		cp.Status = models.MissionStatusRunning
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = m.now().UTC()
	}
	cp.Tasks = append([]models.Task(nil), cp.Tasks...)
	cp.AgentSessionMap = maps.Clone(cp.AgentSessionMap)
	if cp.AgentSessionMap == nil {
		cp.AgentSessionMap = map[string]models.AgentSession{}
	}
	m.cp = &cp
	m.saveLocked(ctx)
}

// SaveTasks replaces the checkpoint's task snapshot. It matches
// dispatch.PersistFunc once bound to a context.
func (m *Manager) SaveTasks(ctx context.Context, tasks []models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return
	}
	m.cp.Tasks = append([]models.Task(nil), tasks...)
	m.saveLocked(ctx)
}

// SaveSession records an agent's session in the checkpoint.
func (m *Manager) SaveSession(ctx context.Context, s models.AgentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return
	}
	m.cp.AgentSessionMap[s.AgentID] = s
	m.saveLocked(ctx)
}

// SetStatus updates the checkpoint status without archiving it.
func (m *Manager) SetStatus(ctx context.Context, status models.MissionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return
	}
	m.cp.Status = status
	m.saveLocked(ctx)
}

// Finish archives the current checkpoint under status and clears it.
// It returns the archived checkpoint, or false when there was none.
func (m *Manager) Finish(ctx context.Context, status models.MissionStatus) (models.MissionCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return models.MissionCheckpoint{}, false
	}
	m.cp.Status = status
	m.cp.UpdatedAt = m.now().UTC()
	final := m.snapshotLocked()
	m.cp = nil

	if m.st != nil {
		if err := m.st.ArchiveCheckpoint(ctx, &final, m.keep); err != nil {
			m.logger.Warn("archive checkpoint failed", "mission", final.ID, "error", err)
		}
		if err := m.st.ClearCheckpoint(ctx); err != nil {
			m.logger.Warn("clear checkpoint failed", "mission", final.ID, "error", err)
		}
	}
	return final, true
}

// Current returns a copy of the live checkpoint.
func (m *Manager) Current() (models.MissionCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return models.MissionCheckpoint{}, false
	}
	return m.snapshotLocked(), true
}

// Resumable returns a running checkpoint left behind by an earlier process.
// It returns nil when there is none.
func (m *Manager) Resumable(ctx context.Context) (*models.MissionCheckpoint, error) {
	if m.st == nil {
		return nil, nil
	}
	cp, err := m.st.CurrentCheckpoint(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Status != models.MissionStatusRunning && cp.Status != models.MissionStatusPaused {
		return nil, nil
	}
	return cp, nil
}

// AbortStale archives a leftover running checkpoint as aborted. It returns
// nil when there was nothing to abort.
func (m *Manager) AbortStale(ctx context.Context) (*models.MissionCheckpoint, error) {
	cp, err := m.Resumable(ctx)
	if err != nil || cp == nil {
		return nil, err
	}
	cp.Status = models.MissionStatusAborted
	cp.UpdatedAt = m.now().UTC()
	if err := m.st.ArchiveCheckpoint(ctx, cp, m.keep); err != nil {
		return nil, fmt.Errorf("archive checkpoint: %w", err)
	}
	if err := m.st.ClearCheckpoint(ctx); err != nil {
		return nil, fmt.Errorf("clear checkpoint: %w", err)
	}
	return cp, nil
}

// History lists archived checkpoints, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]models.MissionCheckpoint, error) {
	if m.st == nil {
		return nil, nil
	}
	return m.st.ListCheckpointHistory(ctx, limit)
}

func (m *Manager) snapshotLocked() models.MissionCheckpoint {
	cp := *m.cp
	cp.Team = append([]models.TeamMember(nil), m.cp.Team...)
	cp.Tasks = append([]models.Task(nil), m.cp.Tasks...)
	cp.AgentSessionMap = maps.Clone(m.cp.AgentSessionMap)
	return cp
}

func (m *Manager) saveLocked(ctx context.Context) {
	m.cp.UpdatedAt = m.now().UTC()
	if m.st == nil {
		return
	}
	snap := m.snapshotLocked()
	if err := m.st.SaveCheckpoint(ctx, &snap); err != nil {
		m.logger.Warn("save checkpoint failed", "mission", snap.ID, "error", err)
	}
}
