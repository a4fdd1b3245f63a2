package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_CreatesFileWithCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "serve.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_SecondServeIsRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	cleanup1, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup1()

	cleanup2, err := writePIDFile(path)
	require.ErrorIs(t, err, errServeRunning)
	assert.Nil(t, cleanup2)
}

func TestWritePIDFile_CleanupRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The lock is released too.
	cleanup, err = writePIDFile(path)
	require.NoError(t, err)
	cleanup()
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	cleanup, err := writePIDFile("")
	assert.Error(t, err)
	assert.Nil(t, cleanup)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("4242\n"), 0o600))

	pid, err := readPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0o600))

	_, err = readPIDFile(bad)
	assert.ErrorContains(t, err, "invalid PID")

	_, err = readPIDFile(filepath.Join(dir, "missing.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunningPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	_, alive := runningPID(path)
	assert.False(t, alive, "missing file")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	pid, alive := runningPID(path)
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)

	stale := filepath.Join(t.TempDir(), "stale.pid")
	require.NoError(t, os.WriteFile(stale, []byte("0\n"), 0o600))

	_, alive = runningPID(stale)
	assert.False(t, alive, "pid 0")
}
