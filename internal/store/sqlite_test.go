package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewID_UniqueAndOrdered(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for range 1000 {
		id := NewID()
		_, err := ulid.ParseStrict(id)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "subdir", "test.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestTeamMemberCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.TeamMember{Name: "Researcher", ModelID: "sonnet", RoleDescription: "finds things"}
	require.NoError(t, s.SaveTeamMember(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, models.MemberStatusAvailable, a.Status)

	b := &models.TeamMember{ID: "writer", Name: "Writer"}
	require.NoError(t, s.SaveTeamMember(ctx, b))

	got, err := s.GetTeamMember(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Researcher", got.Name)
	assert.Equal(t, "finds things", got.RoleDescription)

	members, err := s.ListTeamMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, a.ID, members[0].ID, "insertion order is roster order")
	assert.Equal(t, "writer", members[1].ID)

	// Update keeps position
	a.Name = "Lead Researcher"
	require.NoError(t, s.SaveTeamMember(ctx, a))
	members, err = s.ListTeamMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lead Researcher", members[0].Name)

	require.NoError(t, s.DeleteTeamMember(ctx, "writer"))
	_, err = s.GetTeamMember(ctx, "writer")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTeamMember(ctx, "writer"), ErrNotFound)
}

func TestTeamConfigCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := &models.TeamConfig{Name: "research", Members: []models.TeamMember{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}}
	require.NoError(t, s.SaveTeamConfig(ctx, cfg))

	got, err := s.GetTeamConfig(ctx, "research")
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "B", got.Members[1].Name)

	cfg.Members = cfg.Members[:1]
	require.NoError(t, s.SaveTeamConfig(ctx, cfg))
	all, err := s.ListTeamConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Members, 1)

	require.NoError(t, s.DeleteTeamConfig(ctx, "research"))
	_, err = s.GetTeamConfig(ctx, "research")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgentSession(ctx, "m1", models.AgentSession{AgentID: "a", SessionKey: "k1", Label: "mission-x-a"}))
	require.NoError(t, s.SaveAgentSession(ctx, "m1", models.AgentSession{AgentID: "a", SessionKey: "k2", Reused: true}))
	require.NoError(t, s.SaveAgentSession(ctx, "m2", models.AgentSession{AgentID: "b", SessionKey: "k3"}))

	list, err := s.ListAgentSessions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "k2", list[0].SessionKey)
	assert.True(t, list[0].Reused)
}

func TestCheckpoint_OverwriteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CurrentCheckpoint(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cp := &models.MissionCheckpoint{
		ID:          "m1",
		Label:       "mission-alpha",
		ProcessType: models.TopologyParallel,
		Tasks:       []models.Task{{ID: "t1", Title: "Do it", Status: models.TaskStatusInbox}},
		Status:      models.MissionStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	cp.Tasks[0].Status = models.TaskStatusDone
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	got, err := s.CurrentCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, models.TaskStatusDone, got.Tasks[0].Status)

	require.NoError(t, s.ClearCheckpoint(ctx))
	_, err = s.CurrentCheckpoint(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveCheckpoint_Bounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.ArchiveCheckpoint(ctx, &models.MissionCheckpoint{ID: id, Status: models.MissionStatusCompleted}, 2))
		time.Sleep(5 * time.Millisecond)
	}

	hist, err := s.ListCheckpointHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "m3", hist[0].ID)
	assert.Equal(t, "m2", hist[1].ID)
}

func TestReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"r1", "r2", "r3"} {
		r := &models.MissionReport{
			ID:          id,
			MissionID:   "m-" + id,
			Goal:        "goal",
			Outcome:     models.OutcomeComplete,
			CompletedAt: base.Add(time.Duration(i) * time.Second),
			Artifacts:   []models.Artifact{{Title: "a", Type: models.ArtifactCode}},
		}
		require.NoError(t, s.SaveReport(ctx, r, 2))
	}

	list, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r3", list[0].ID)

	got, err := s.GetReport(ctx, "m-r2")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.ID)
	require.Len(t, got.Artifacts, 1)

	_, err = s.GetReport(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.ApprovalRequest{AgentID: "a", AgentName: "A", Action: "delete prod db", Source: models.ApprovalSourceAgent}
	require.NoError(t, s.SaveApproval(ctx, "m1", a))
	assert.Equal(t, models.ApprovalPending, a.Status)

	g := &models.ApprovalRequest{ID: "gw-1", Action: "run shell", Source: models.ApprovalSourceGateway, GatewayID: "1"}
	require.NoError(t, s.SaveApproval(ctx, "m1", g))

	pending, err := s.ListApprovals(ctx, models.ApprovalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, s.ResolveApproval(ctx, "gw-1", models.ApprovalApproved))

	// Re-observing the same gateway approval does not reset it.
	require.NoError(t, s.SaveApproval(ctx, "m1", &models.ApprovalRequest{ID: "gw-1", Action: "run shell", Status: models.ApprovalPending}))
	got, err := s.GetApproval(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)
	assert.Equal(t, models.ApprovalSourceGateway, got.Source)

	pending, err = s.ListApprovals(ctx, models.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "delete prod db", pending[0].Action)

	assert.ErrorIs(t, s.ResolveApproval(ctx, "missing", models.ApprovalDenied), ErrNotFound)
}
