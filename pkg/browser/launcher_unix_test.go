//go:build !windows

package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authrelay/pkg/process"
)

// writeFakeBrowser writes an executable that records its pid and never
// opens the debugging port.
func writeFakeBrowser(t *testing.T) (path, pidFile string) {
	t.Helper()
	dir := t.TempDir()
	pidFile = filepath.Join(dir, "pid")
	path = filepath.Join(dir, "fake-chromium")
	script := fmt.Sprintf("#!/bin/sh\necho $$ > %q\nexec sleep 30\n", pidFile)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, pidFile
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStartProcess_PortTimeoutStopsBrowser(t *testing.T) {
	executable, pidFile := writeFakeBrowser(t)
	profileRoot := t.TempDir()
	t.Setenv("TMPDIR", profileRoot)

	opts := LaunchOptions{DebugPort: freePort(t), PortTimeout: 500 * time.Millisecond}
	opts.applyDefaults()

	l := NewLauncher(process.NewSpawner())
	start := time.Now()
	inst, err := l.startProcess(context.Background(), opts, executable)
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.ErrorIs(t, err, ErrPortTimeout)
	assert.ErrorIs(t, err, ErrLaunch)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "wait_port", le.Op)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "browser process must be stopped")

	entries, err := os.ReadDir(profileRoot)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "authrelay-profile-"), "profile %s must be removed", e.Name())
	}
}

func TestStartProcess_MissingExecutable(t *testing.T) {
	profileRoot := t.TempDir()
	t.Setenv("TMPDIR", profileRoot)

	opts := LaunchOptions{DebugPort: freePort(t)}
	opts.applyDefaults()

	_, err := NewLauncher(process.NewSpawner()).startProcess(context.Background(), opts, "/nonexistent/authrelay-chromium")
	require.Error(t, err)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "spawn", le.Op)

	entries, err := os.ReadDir(profileRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
