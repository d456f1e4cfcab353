package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/daemon"
)

func TestPidFile_Path(t *testing.T) {
	dir := testEnv(t)

	pf := pidFile()
	expected := filepath.Join(dir, "clawsuite.pid")
	assert.Equal(t, expected, pf.Path)
}

func TestServerURL(t *testing.T) {
	testEnv(t)
	assert.Equal(t, "http://localhost:8080", serverURL())
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists, so status should show "not running" without error.
	err := serveStatusRun()
	assert.NoError(t, err)
	assert.Nil(t, remoteClient())
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists, so stop should return an error.
	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// The parent process is alive and is not us.
	pf := daemon.NewPIDFile(filepath.Join(dir, "clawsuite.pid"))
	require.NoError(t, pf.WritePID(os.Getppid()))
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	err := serveRun(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, daemon.ErrAlreadyRunning)
	assert.NotNil(t, remoteClient())
}
