package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample() models.MissionCheckpoint {
	return models.MissionCheckpoint{
		ID:          "m1",
		Label:       "Write a report",
		ProcessType: models.TopologyParallel,
		Team:        []models.TeamMember{{ID: "a", Name: "Ana"}},
		Tasks: []models.Task{
			{ID: "t1", Title: "Draft", AgentID: "a", Status: models.TaskStatusAssigned},
		},
	}
}

func TestRoundTripTaskSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	m := New(st)

	m.Start(ctx, sample())
	tasks := []models.Task{
		{ID: "t1", Title: "Draft", AgentID: "a", Status: models.TaskStatusDone},
		{ID: "t2", Title: "Review", AgentID: "a", Status: models.TaskStatusInProgress},
	}
	m.SaveTasks(ctx, tasks)
	m.SaveSession(ctx, models.AgentSession{AgentID: "a", SessionKey: "ka", ModelUsed: "m"})

	loaded, err := st.CurrentCheckpoint(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 2)
	for i := range tasks {
		assert.Equal(t, tasks[i].ID, loaded.Tasks[i].ID)
		assert.Equal(t, tasks[i].Status, loaded.Tasks[i].Status)
	}
	assert.Equal(t, "ka", loaded.AgentSessionMap["a"].SessionKey)
	assert.Equal(t, models.MissionStatusRunning, loaded.Status)

	resumable, err := m.Resumable(ctx)
	require.NoError(t, err)
	require.NotNil(t, resumable)
	assert.Equal(t, "m1", resumable.ID)
}

func TestFinishArchivesAndClears(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	m := New(st, WithHistoryLimit(2))

	for _, id := range []string{"m1", "m2", "m3"} {
		cp := sample()
		cp.ID = id
		m.Start(ctx, cp)
		final, ok := m.Finish(ctx, models.MissionStatusCompleted)
		require.True(t, ok)
		assert.Equal(t, models.MissionStatusCompleted, final.Status)
	}

	_, ok := m.Current()
	assert.False(t, ok)
	_, err := st.CurrentCheckpoint(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	hist, err := m.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	_, ok = m.Finish(ctx, models.MissionStatusAborted)
	assert.False(t, ok, "nothing left to finish")
}

func TestAbortStale(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	// A previous process left a running checkpoint behind.
	prev := New(st)
	prev.Start(ctx, sample())

	m := New(st)
	cp, err := m.AbortStale(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, models.MissionStatusAborted, cp.Status)

	cp, err = m.Resumable(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	hist, err := m.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.MissionStatusAborted, hist[0].Status)

	cp, err = m.AbortStale(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

type brokenStore struct{ Store }

var errDisk = errors.New("disk full")

func (brokenStore) SaveCheckpoint(context.Context, *models.MissionCheckpoint) error { return errDisk }
func (brokenStore) ArchiveCheckpoint(context.Context, *models.MissionCheckpoint, int) error {
	return errDisk
}
func (brokenStore) ClearCheckpoint(context.Context) error { return errDisk }

func TestStorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	m := New(brokenStore{})

	m.Start(ctx, sample())
	m.SaveTasks(ctx, []models.Task{{ID: "t1", Status: models.TaskStatusDone}})

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusDone, cur.Tasks[0].Status)

	final, ok := m.Finish(ctx, models.MissionStatusCompleted)
	assert.True(t, ok)
	assert.Equal(t, "m1", final.ID)
}

func TestNilStore(t *testing.T) {
	ctx := context.Background()
	m := New(nil)
	m.Start(ctx, sample())
	cp, err := m.Resumable(ctx)
	assert.NoError(t, err)
	assert.Nil(t, cp)
	_, ok := m.Finish(ctx, models.MissionStatusAborted)
	assert.True(t, ok)
}
