package runtimefile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndReleasePidLock(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, AcquirePidLock(dir))
	pid, err := ReadPid(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, ReleasePidLock(dir))
	_, err = ReadPid(dir)
	assert.Error(t, err)
}

func TestReleasePidLock_NoopWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ReleasePidLock(dir))
}

func TestAcquirePidLock_RejectsWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AcquirePidLock(dir)) // locks under our own live pid

	err := AcquirePidLock(dir)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquirePidLock_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := dir + string(os.PathSeparator) + PidFileName

	// A pid very unlikely to be alive, simulating a stale lock left behind
	// by a master that crashed without cleaning up.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	require.NoError(t, AcquirePidLock(dir))
	pid, err := ReadPid(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPid_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + string(os.PathSeparator) + PidFileName
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := ReadPid(dir)
	assert.Error(t, err)
}

func TestWriteReadRemovePortFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WritePortFile(dir, 54321))
	port, err := ReadPortFile(dir)
	require.NoError(t, err)
	assert.Equal(t, 54321, port)

	require.NoError(t, RemovePortFile(dir))
	_, err = ReadPortFile(dir)
	assert.Error(t, err)

	assert.NoError(t, RemovePortFile(dir)) // noop when already absent
}

func TestReadPortFile_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + string(os.PathSeparator) + PortFileName
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := ReadPortFile(dir)
	assert.Error(t, err)
}
