//go:build !windows

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authrelay/pkg/audit"
	"github.com/entrhq/authrelay/pkg/process"
	"github.com/entrhq/authrelay/pkg/tunnel"
)

func newShellProvisioner(t *testing.T, script string, timeout time.Duration) *tunnel.Provisioner {
	t.Helper()
	p, err := tunnel.NewProvisioner(tunnel.Config{
		Command:      "/bin/sh",
		Args:         []string{"-c", script},
		Credential:   "secret",
		StartTimeout: timeout,
	}, process.NewSpawner())
	require.NoError(t, err)
	t.Cleanup(p.CloseAll)
	return p
}

func TestStart_WithShellTunnel(t *testing.T) {
	provisioner := newShellProvisioner(t, "echo starting; echo https://abc123.tunnel.example/; sleep 30", 2*time.Second)
	h := newHarness(t, func(o *Options) {
		o.Provisioner = NewTunnelProvisioner(provisioner)
	})

	res, err := h.m.Start(context.Background(), StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 36)
	assert.Equal(t, "https://abc123.tunnel.example/", res.TunnelURL)
	assert.Equal(t, 1, provisioner.Active())

	h.m.Cleanup(res.SessionID)
	assert.Equal(t, 0, provisioner.Active())
}

func TestTunnelExitTearsDownSession(t *testing.T) {
	provisioner := newShellProvisioner(t, "echo https://abc123.tunnel.example/; sleep 0.3", 2*time.Second)
	h := newHarness(t, func(o *Options) {
		o.Provisioner = NewTunnelProvisioner(provisioner)
	})

	res, err := h.m.Start(context.Background(), StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	b := h.launcher.last()

	assert.Eventually(t, func() bool { return h.m.Count() == 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return b.closes.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.ports.held() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, provisioner.Active())

	_, err = h.m.Capture(context.Background(), res.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Eventually(t, func() bool {
		kinds := h.audit.kinds(res.SessionID)
		return len(kinds) == 2 && kinds[1] == audit.KindTunnelExit
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStart_TunnelTimeoutLeavesNothingRunning(t *testing.T) {
	provisioner := newShellProvisioner(t, "echo connecting; sleep 30", 300*time.Millisecond)
	h := newHarness(t, func(o *Options) {
		o.Provisioner = NewTunnelProvisioner(provisioner)
	})

	_, err := h.m.Start(context.Background(), StartRequest{OwnerID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tunnel.ErrTunnelTimeout))

	assert.Equal(t, 0, provisioner.Active())
	assert.Equal(t, int32(1), h.launcher.last().closes.Load())
	assert.Equal(t, 0, h.ports.held())
	assert.Equal(t, 0, h.m.Count())
}

func TestStart_MissingCredentialSpawnsNothing(t *testing.T) {
	p, err := tunnel.NewProvisioner(tunnel.Config{Command: "/bin/sh", Args: []string{"-c", "exit 0"}}, process.NewSpawner())
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) {
		o.Provisioner = NewTunnelProvisioner(p)
	})

	_, err = h.m.Start(context.Background(), StartRequest{OwnerID: "u1"})
	assert.ErrorIs(t, err, tunnel.ErrMissingCredential)
	assert.Equal(t, 0, h.launcher.count())
}
