package dispatch

import (
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// PersistFunc receives a snapshot of all tasks after every mutation.
type PersistFunc func(tasks []models.Task)

// Board is the single owner of task status. Transitions only move forward,
// except for an explicit Redispatch.
type Board struct {
	mu      sync.Mutex
	tasks   []models.Task
	version uint64
	persist PersistFunc
	now     func() time.Time

	saveMu sync.Mutex
	saved  uint64
}

// NewBoard creates a Board over tasks. persist may be nil.
func NewBoard(tasks []models.Task, persist PersistFunc) *Board {
	return &Board{
		tasks:   append([]models.Task(nil), tasks...),
		persist: persist,
		now:     time.Now,
	}
}

// Tasks returns a snapshot of all tasks.
func (b *Board) Tasks() []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Task(nil), b.tasks...)
}

// ForAgent returns the agent's tasks in board order.
func (b *Board) ForAgent(agentID string) []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Task
	for _, t := range b.tasks {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out
}

// Add appends a task.
func (b *Board) Add(t models.Task) {
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	snap, v := b.snapshotLocked()
	b.mu.Unlock()
	b.save(snap, v)
}

// Advance moves the given tasks to status when that is a forward move.
// It returns the number of tasks changed.
func (b *Board) Advance(ids []string, status models.TaskStatus) int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return b.mutate(func(t *models.Task) bool {
		return want[t.ID] && forward(t.Status, status)
	}, status)
}

// CompleteAgent moves all of the agent's unfinished tasks to done.
func (b *Board) CompleteAgent(agentID string) int {
	return b.mutate(func(t *models.Task) bool {
		return t.AgentID == agentID && forward(t.Status, models.TaskStatusDone)
	}, models.TaskStatusDone)
}

// BlockAgent moves all of the agent's unfinished tasks to blocked.
func (b *Board) BlockAgent(agentID string) int {
	return b.mutate(func(t *models.Task) bool {
		return t.AgentID == agentID && forward(t.Status, models.TaskStatusBlocked)
	}, models.TaskStatusBlocked)
}

// Redispatch resets the agent's tasks to assigned. This is the only
// backward transition.
func (b *Board) Redispatch(agentID string) int {
	return b.mutate(func(t *models.Task) bool {
		return t.AgentID == agentID && t.Status != models.TaskStatusAssigned
	}, models.TaskStatusAssigned)
}

func (b *Board) mutate(match func(*models.Task) bool, status models.TaskStatus) int {
	b.mu.Lock()
	n := 0
	now := b.now().UTC()
	for i := range b.tasks {
		if match(&b.tasks[i]) {
			b.tasks[i].Status = status
			b.tasks[i].UpdatedAt = now
			n++
		}
	}
	var snap []models.Task
	var v uint64
	if n > 0 {
		snap, v = b.snapshotLocked()
	}
	b.mu.Unlock()
	if n > 0 {
		b.save(snap, v)
	}
	return n
}

func (b *Board) snapshotLocked() ([]models.Task, uint64) {
	b.version++
	return append([]models.Task(nil), b.tasks...), b.version
}

// save persists snap unless a newer snapshot was already persisted.
func (b *Board) save(snap []models.Task, v uint64) {
	if b.persist == nil {
		return
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	if v <= b.saved {
		return
	}
	b.saved = v
	b.persist(snap)
}

// Stats counts tasks by status.
func (b *Board) Stats() models.TaskStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CountTasks(b.tasks)
}

// Progress returns done tasks as an integer percentage of all tasks.
func (b *Board) Progress() int {
	st := b.Stats()
	if st.Total == 0 {
		return 0
	}
	return st.Done * 100 / st.Total
}

func forward(from, to models.TaskStatus) bool {
	return to.Rank() > from.Rank()
}
