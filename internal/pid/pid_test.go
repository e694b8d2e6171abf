package pid_test

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/pid"
)

func TestWriteAndRemove(t *testing.T) {
	t.Cleanup(func() { _ = pid.Remove() })

	require.NoError(t, pid.Write())

	raw, err := os.ReadFile(pid.File())
	require.NoError(t, err, "Expected the PID file to exist after Write")
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	require.NoError(t, pid.Remove())
	_, err = os.Stat(pid.File())
	assert.True(t, os.IsNotExist(err), "Expected the PID file to be gone after Remove")
}

func TestLiveInstanceIsRejected(t *testing.T) {
	t.Cleanup(func() { _ = pid.Remove() })

	require.NoError(t, pid.Write())

	err := pid.Write()
	require.Error(t, err, "Expected a second Write to detect the live instance")
	assert.Equal(t, errors.ErrAlreadyRunning, errors.CodeOf(err))
}

func TestStaleFileIsReplaced(t *testing.T) {
	t.Cleanup(func() { _ = pid.Remove() })

	// A PID no process holds: our own PID is live, so one beyond the
	// kernel's default pid_max is as close to guaranteed-dead as a unit
	// test gets.
	require.NoError(t, os.WriteFile(pid.File(), []byte("4194304"), 0o600))

	require.NoError(t, pid.Write(), "Expected a stale PID file to be replaced")

	raw, err := os.ReadFile(pid.File())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))
}

func TestRemoveWithoutFileIsNoop(t *testing.T) {
	_ = pid.Remove()
	require.NoError(t, pid.Remove())
}
