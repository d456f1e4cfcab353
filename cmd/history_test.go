package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

func seedReport(t *testing.T, missionID, goal string, outcome models.Outcome) *models.MissionReport {
	t.Helper()
	s, err := getStore()
	require.NoError(t, err)
	r := &models.MissionReport{
		MissionID:   missionID,
		Goal:        goal,
		Outcome:     outcome,
		TaskStats:   models.TaskStats{Total: 2, Done: 1, Pending: 1},
		TokenCount:  1200,
		ReportText:  "# Mission Report\n\n" + goal,
		CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveReport(context.Background(), r, 10))
	return r
}

func TestHistoryList_Empty(t *testing.T) {
	testEnv(t)
	var buf bytes.Buffer
	ui.Out = &buf

	require.NoError(t, historyListRun(context.Background()))
	assert.Contains(t, buf.String(), "No mission reports yet")
}

func TestHistoryList_ShowsReports(t *testing.T) {
	testEnv(t)
	seedReport(t, "m1", "Research the market", models.OutcomePartial)

	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, historyListRun(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "Research the market")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "1200")
}

func TestHistoryShow_Formats(t *testing.T) {
	testEnv(t)
	r := seedReport(t, "m1", "Write the summary", models.OutcomeComplete)
	t.Cleanup(func() { historyFormat = "markdown" })

	var buf bytes.Buffer
	ui.Out = &buf
	historyFormat = "markdown"
	require.NoError(t, historyShowRun(context.Background(), r.ID))
	assert.Contains(t, buf.String(), "# Mission Report")

	// Lookup by mission id works too.
	buf.Reset()
	historyFormat = "json"
	require.NoError(t, historyShowRun(context.Background(), "m1"))
	var got models.MissionReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, models.OutcomeComplete, got.Outcome)

	historyFormat = "xml"
	assert.Error(t, historyShowRun(context.Background(), r.ID))
}

func TestHistoryShow_NotFound(t *testing.T) {
	testEnv(t)
	assert.Error(t, historyShowRun(context.Background(), "missing"))
}

func TestHistoryMissions(t *testing.T) {
	testEnv(t)
	s, err := getStore()
	require.NoError(t, err)

	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, historyMissionsRun(context.Background()))
	assert.Contains(t, buf.String(), "No archived missions")

	cp := &models.MissionCheckpoint{
		ID:          "m1",
		Label:       "Research the market",
		ProcessType: models.TopologySequential,
		Team:        []models.TeamMember{{ID: "a", Name: "Ana"}},
		Status:      models.MissionStatusCompleted,
		StartedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.ArchiveCheckpoint(context.Background(), cp, 10))

	buf.Reset()
	require.NoError(t, historyMissionsRun(context.Background()))
	assert.Contains(t, buf.String(), "Research the market")
	assert.Contains(t, buf.String(), "sequential")
}
