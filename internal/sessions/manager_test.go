package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway/gatewaytest"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	saved map[string]models.AgentSession
}

func (s *memStore) SaveAgentSession(ctx context.Context, missionID string, as models.AgentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string]models.AgentSession{}
	}
	s.saved[missionID+"/"+as.AgentID] = as
	return nil
}

var team = []models.TeamMember{
	{ID: "a", Name: "Research Lead", ModelID: "opus"},
	{ID: "b", Name: "Writer"},
}

func TestLabelAndSlug(t *testing.T) {
	assert.Equal(t, "mission-research-lead", Label(models.TeamMember{Name: "Research  Lead!"}))
	assert.Equal(t, "mission-agent-7", Label(models.TeamMember{ID: "agent_7"}))
	assert.Equal(t, "a-b-c", Slug("--A b__C--"))
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "opus", ResolveModel(team[0], "sonnet"))
	assert.Equal(t, "sonnet", ResolveModel(team[1], "sonnet"))
	assert.Equal(t, "", ResolveModel(team[1], ""))
}

func TestEnsureSessions_SpawnsAndPublishes(t *testing.T) {
	gw := gatewaytest.New()
	st := &memStore{}
	var readyMu sync.Mutex
	var ready []string
	m := NewManager(gw, WithStore(st), WithDefaultModel("sonnet"), WithOnReady(func(s models.AgentSession) {
		readyMu.Lock()
		ready = append(ready, s.AgentID)
		readyMu.Unlock()
	}))
	m.Reset("m1")

	var c generation.Counter
	require.NoError(t, m.EnsureSessions(context.Background(), c.Advance(), team))

	assert.Equal(t, 2, gw.SpawnCount())
	a, ok := m.Session("a")
	require.True(t, ok)
	assert.Equal(t, "opus", a.ModelUsed)
	assert.Equal(t, "mission-research-lead", a.Label)
	b, _ := m.Session("b")
	assert.Equal(t, "sonnet", b.ModelUsed)
	assert.NotEqual(t, a.SessionKey, b.SessionKey)

	state, _ := m.SpawnState("a")
	assert.Equal(t, models.SpawnStateReady, state)
	assert.ElementsMatch(t, []string{"a", "b"}, ready)
	assert.Len(t, st.saved, 2)

	id, ok := m.AgentForKey(b.SessionKey)
	assert.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestEnsureSessions_ReusesByLabel(t *testing.T) {
	gw := gatewaytest.New()
	gw.AddSession(gateway.Session{Key: "existing", Label: "mission-writer", Model: "haiku"})
	m := NewManager(gw)

	var c generation.Counter
	require.NoError(t, m.EnsureSessions(context.Background(), c.Advance(), team))

	assert.Equal(t, 1, gw.SpawnCount(), "only the agent without a labelled session spawns")
	b, _ := m.Session("b")
	assert.Equal(t, "existing", b.SessionKey)
	assert.True(t, b.Reused)
	assert.Equal(t, "haiku", b.ModelUsed)
}

func TestEnsureSessions_Idempotent(t *testing.T) {
	gw := gatewaytest.New()
	m := NewManager(gw)
	var c generation.Counter
	tok := c.Advance()

	require.NoError(t, m.EnsureSessions(context.Background(), tok, team))
	require.NoError(t, m.EnsureSessions(context.Background(), tok, team))
	assert.Equal(t, 2, gw.SpawnCount())
}

func TestEnsureSessions_ConcurrentCallsDoNotDoubleSpawn(t *testing.T) {
	gw := gatewaytest.New()
	gw.SpawnDelay = 20 * time.Millisecond
	m := NewManager(gw)
	var c generation.Counter
	tok := c.Advance()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.EnsureSessions(context.Background(), tok, team)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, gw.SpawnCount())
}

func TestEnsureSessions_FailureIsolated(t *testing.T) {
	gw := gatewaytest.New()
	gw.SpawnErr["mission-research-lead"] = errors.New("quota exceeded")
	m := NewManager(gw)
	var c generation.Counter

	err := m.EnsureSessions(context.Background(), c.Advance(), team)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	state, msg := m.SpawnState("a")
	assert.Equal(t, models.SpawnStateError, state)
	assert.Contains(t, msg, "quota")
	_, ok := m.Session("b")
	assert.True(t, ok, "sibling spawn still succeeds")

	// A later call retries the failed agent.
	delete(gw.SpawnErr, "mission-research-lead")
	require.NoError(t, m.EnsureSessions(context.Background(), c.Current(), team))
	_, ok = m.Session("a")
	assert.True(t, ok)
}

func TestEnsureSessions_ConflictAdoptsExisting(t *testing.T) {
	gw := gatewaytest.New()
	gw.ListErr = errors.New("timeout")
	m := NewManager(gw)
	var c generation.Counter
	tok := c.Advance()

	// The gateway already has the label but the first list failed.
	gw.AddSession(gateway.Session{Key: "k-old", Label: "mission-writer"})
	err := m.EnsureSessions(context.Background(), tok, team[1:])
	require.Error(t, err, "list keeps failing so the conflict cannot be resolved")

	gw.ListErr = nil
	require.NoError(t, m.EnsureSessions(context.Background(), tok, team[1:]))
	b, _ := m.Session("b")
	assert.Equal(t, "k-old", b.SessionKey)
}

func TestEnsureSessions_StaleGenerationDiscards(t *testing.T) {
	gw := gatewaytest.New()
	gw.SpawnDelay = 20 * time.Millisecond
	m := NewManager(gw)
	var c generation.Counter
	tok := c.Advance()

	done := make(chan struct{})
	go func() {
		_ = m.EnsureSessions(context.Background(), tok, team)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	c.Advance()
	<-done

	assert.Empty(t, m.Sessions(), "results of a superseded launch are dropped")
	state, _ := m.SpawnState("a")
	assert.Equal(t, models.SpawnStateNone, state)
}

func TestKillSession(t *testing.T) {
	gw := gatewaytest.New()
	m := NewManager(gw)
	var c generation.Counter
	require.NoError(t, m.EnsureSessions(context.Background(), c.Advance(), team))
	a, _ := m.Session("a")

	require.NoError(t, m.KillSession(context.Background(), "a"))
	assert.Contains(t, gw.Aborted, a.SessionKey)
	assert.Contains(t, gw.Deleted, a.SessionKey)
	_, ok := m.Session("a")
	assert.False(t, ok)

	assert.NoError(t, m.KillSession(context.Background(), "a"), "no session is a no-op")
	assert.NoError(t, m.KillSession(context.Background(), "nobody"))
}

func TestKillSession_AlreadyGoneOnGateway(t *testing.T) {
	gw := gatewaytest.New()
	m := NewManager(gw)
	m.Restore("m1", map[string]models.AgentSession{"a": {AgentID: "a", SessionKey: "gone"}})
	assert.NoError(t, m.KillSession(context.Background(), "a"))
}

func TestKillAll(t *testing.T) {
	gw := gatewaytest.New()
	m := NewManager(gw)
	var c generation.Counter
	require.NoError(t, m.EnsureSessions(context.Background(), c.Advance(), team))

	require.NoError(t, m.KillAll(context.Background()))
	assert.Empty(t, m.Sessions())
	assert.Len(t, gw.Deleted, 2)
}
