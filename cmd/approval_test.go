package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

func TestApprovalList_FromStore(t *testing.T) {
	testEnv(t)
	t.Cleanup(func() { approvalAll = false })
	s, err := getStore()
	require.NoError(t, err)
	ctx := context.Background()

	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, approvalListRun(ctx))
	assert.Contains(t, buf.String(), "No approval requests")

	require.NoError(t, s.SaveApproval(ctx, "m1", &models.ApprovalRequest{
		ID: "ap1", AgentID: "a", AgentName: "Ana", Action: "Deploy to production",
		RequestedAt: time.Now().UTC(), Status: models.ApprovalPending, Source: models.ApprovalSourceAgent,
	}))
	require.NoError(t, s.SaveApproval(ctx, "m1", &models.ApprovalRequest{
		ID: "ap2", AgentID: "b", AgentName: "Bo", Action: "Delete the staging bucket",
		RequestedAt: time.Now().UTC(), Status: models.ApprovalDenied, Source: models.ApprovalSourceGateway,
	}))

	buf.Reset()
	require.NoError(t, approvalListRun(ctx))
	assert.Contains(t, buf.String(), "Deploy to production")
	assert.NotContains(t, buf.String(), "Delete the staging bucket")

	buf.Reset()
	approvalAll = true
	require.NoError(t, approvalListRun(ctx))
	assert.Contains(t, buf.String(), "Delete the staging bucket")
}

func TestApprovalResolve_NoOrchestrator(t *testing.T) {
	testEnv(t)
	err := approvalResolveRun(context.Background(), "ap1", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no orchestrator is running")
}
