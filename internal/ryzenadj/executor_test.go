package ryzenadj_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/ryzenadj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes an executable shell script that appends its arguments
// to a log file and exits with the given status.
func fakeBinary(t *testing.T, dir, name string, exitCode int) (string, string) {
	t.Helper()
	logPath := filepath.Join(dir, name+".log")
	script := "#!/bin/sh\necho \"$@\" >> " + logPath + "\nexit " + strconv.Itoa(exitCode) + "\n"
	binPath := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(binPath, []byte(script), 0o755))

	return binPath, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return strings.TrimSpace(string(data))
}

func TestApplyArguments(t *testing.T) {
	dir := t.TempDir()
	bin, logPath := fakeBinary(t, dir, "ryzenadj-ok", 0)

	var hw sync.Mutex
	applier := ryzenadj.New(bin, time.Second, &hw)

	require.NoError(t, applier.Apply(context.Background(), 2, -25))
	assert.Equal(t, "--set-coper-2 25", readLog(t, logPath), "Expected magnitude argument for the core")
}

func TestApplyZeroOffset(t *testing.T) {
	dir := t.TempDir()
	bin, logPath := fakeBinary(t, dir, "ryzenadj-ok", 0)

	var hw sync.Mutex
	applier := ryzenadj.New(bin, time.Second, &hw)

	require.NoError(t, applier.Apply(context.Background(), 0, 0))
	assert.Equal(t, "--set-coper-0 0", readLog(t, logPath))
}

func TestApplyFailure(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeBinary(t, dir, "ryzenadj-bad", 1)

	var hw sync.Mutex
	applier := ryzenadj.New(bin, time.Second, &hw)

	err := applier.Apply(context.Background(), 0, -10)
	require.Error(t, err)
	assert.Equal(t, ryzenadj.ErrApplyFailed, errors.CodeOf(err), "Expected non-zero exit reported as apply failure")
}

func TestApplyTimeout(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "ryzenadj-hang")
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))

	var hw sync.Mutex
	applier := ryzenadj.New(binPath, 50*time.Millisecond, &hw)

	start := time.Now()
	err := applier.Apply(context.Background(), 0, -10)
	require.Error(t, err)
	assert.Equal(t, ryzenadj.ErrApplyTimeout, errors.CodeOf(err), "Expected hang converted to timeout error")
	assert.Less(t, time.Since(start), 2*time.Second, "Expected the subprocess killed by the deadline")
}

func TestResetAllSingleInvocation(t *testing.T) {
	dir := t.TempDir()
	bin, logPath := fakeBinary(t, dir, "ryzenadj-ok", 0)

	var hw sync.Mutex
	applier := ryzenadj.New(bin, time.Second, &hw)

	require.NoError(t, applier.ResetAll(context.Background(), []int{0, 1, 2}))
	data := readLog(t, logPath)
	assert.Equal(t, "--set-coper-0 0 --set-coper-1 0 --set-coper-2 0", data, "Expected one invocation zeroing every core")
	assert.Equal(t, 1, strings.Count(data, "\n")+1, "Expected a single invocation")
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeBinary(t, dir, "ryzenadj", 0)

	resolved, err := ryzenadj.Resolve(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, resolved)

	_, err = ryzenadj.Resolve(filepath.Join(dir, "nope"))
	require.Error(t, err)
	assert.Equal(t, ryzenadj.ErrBinaryNotFound, errors.CodeOf(err))
}

func TestFakeApplierFailFirst(t *testing.T) {
	fake := ryzenadj.NewFakeApplier()
	fake.FailFirst = 2

	require.Error(t, fake.Apply(context.Background(), 0, -5))
	require.Error(t, fake.Apply(context.Background(), 0, -5))
	require.NoError(t, fake.Apply(context.Background(), 0, -5))
	assert.Equal(t, 3, fake.ApplyCalls())
	assert.Len(t, fake.Applied, 1, "Expected only the successful call recorded")
}
