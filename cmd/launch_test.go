package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway/gatewaytest"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// scriptedSnapshots replays a fixed sequence, repeating the last entry.
type scriptedSnapshots struct {
	snaps []mission.Snapshot
	calls int
}

func (s *scriptedSnapshots) Snapshot() (mission.Snapshot, error) {
	i := s.calls
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	s.calls++
	return s.snaps[i], nil
}

func TestWatchMission_ReportsChangesUntilDone(t *testing.T) {
	running := mission.Snapshot{
		Status:  models.MissionStatusRunning,
		Running: true,
		Agents:  []mission.AgentView{{ID: "a", Name: "Ana", Status: models.AgentStateActive}},
	}
	done := running
	done.Running = false
	done.Status = models.MissionStatusCompleted
	done.Progress = 100
	done.Agents = []mission.AgentView{{ID: "a", Name: "Ana", Status: models.AgentStateIdle}}

	src := &scriptedSnapshots{snaps: []mission.Snapshot{running, running, running, done}}
	var seen []mission.Snapshot
	final, err := watchMission(context.Background(), src, time.Millisecond, func(s mission.Snapshot) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.False(t, final.Running)
	assert.Equal(t, 4, src.calls)
	require.Len(t, seen, 2, "unchanged snapshots are not reported")
	assert.Equal(t, 100, seen[1].Progress)
}

func TestWatchMission_ContextCancel(t *testing.T) {
	src := &scriptedSnapshots{snaps: []mission.Snapshot{{Running: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := watchMission(ctx, src, time.Hour, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatchMission_NoMission(t *testing.T) {
	e := mission.New(gatewaytest.New())
	t.Cleanup(e.Shutdown)
	_, err := watchMission(context.Background(), e, time.Millisecond, nil)
	assert.ErrorIs(t, err, mission.ErrNoMission)
}

func TestFingerprint(t *testing.T) {
	a := mission.Snapshot{Status: models.MissionStatusRunning, Agents: []mission.AgentView{{ID: "a", Status: models.AgentStateActive}}}
	b := a
	b.Agents = []mission.AgentView{{ID: "a", Status: models.AgentStateWaitingForInput}}
	assert.NotEqual(t, fingerprint(a), fingerprint(b))
	assert.Equal(t, fingerprint(a), fingerprint(a))
}
