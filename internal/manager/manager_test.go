package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/ordering"
	"github.com/saltnpepper97/verdant/internal/service"
)

func sleeperDescriptor(t *testing.T, name string, priority int, deps []string, pkg string) *service.Descriptor {
	t.Helper()
	return &service.Descriptor{
		Name:           name,
		Cmd:            "/bin/sleep",
		Args:           []string{"5"},
		Restart:        bloom.Never,
		Umask:          service.DefaultUmask,
		Nice:           service.DefaultNice,
		StdoutLog:      t.TempDir() + "/out.log",
		StderrLog:      t.TempDir() + "/err.log",
		Dependencies:   deps,
		Priority:       priority,
		StartupPackage: pkg,
	}
}

// TestStartStartupServices_HonorsDependencyOrder covers scenario S1: a
// base/network/app dependency chain reaches Running in the order the
// orderer produced, and only the startup-package members get launched.
func TestStartStartupServices_HonorsDependencyOrder(t *testing.T) {
	base := sleeperDescriptor(t, "base", 50, nil, "boot")
	network := sleeperDescriptor(t, "network", 50, []string{"base"}, "boot")
	app := sleeperDescriptor(t, "app", 50, []string{"network"}, "boot")
	extra := sleeperDescriptor(t, "extra", 50, nil, "optional")

	ordered, err := ordering.Order([]*service.Descriptor{app, extra, network, base})
	require.NoError(t, err)

	m := New(nil)
	require.NoError(t, m.Register(ordered))

	ctx := context.Background()
	m.StartStartupServices(ctx, []string{"boot"})

	require.Eventually(t, func() bool {
		snaps := m.Snapshot()
		states := map[string]bloom.State{}
		for _, s := range snaps {
			states[s.Name] = s.State
		}
		return states["base"] == bloom.Running &&
			states["network"] == bloom.Running &&
			states["app"] == bloom.Running
	}, 2*time.Second, 10*time.Millisecond)

	for _, s := range m.Snapshot() {
		if s.Name == "extra" {
			assert.Equal(t, bloom.Stopped, s.State, "non-startup-package service must not auto-launch")
		}
	}

	m.Shutdown(2 * time.Second)
}

// TestSuperviseAll_IsIdempotent covers spec §4.E's supervise_all:
// calling it twice must not spawn a second goroutine for any service.
func TestSuperviseAll_IsIdempotent(t *testing.T) {
	d := sleeperDescriptor(t, "idle", 50, nil, "")
	m := New(nil)
	require.NoError(t, m.Register([]*service.Descriptor{d}))

	ctx := context.Background()
	m.SuperviseAll(ctx)
	m.SuperviseAll(ctx)

	m.mu.Lock()
	spawnedCount := len(m.spawned)
	m.mu.Unlock()
	assert.Equal(t, 1, spawnedCount)

	snap := m.Snapshot()[0]
	assert.Equal(t, bloom.Stopped, snap.State, "supervise_all must not itself launch anything")

	m.Shutdown(time.Second)
}

// TestShutdown_IsIdempotent covers property 8: calling Shutdown twice is
// a safe no-op the second time.
func TestShutdown_IsIdempotent(t *testing.T) {
	d := sleeperDescriptor(t, "svc", 50, nil, "boot")
	m := New(nil)
	require.NoError(t, m.Register([]*service.Descriptor{d}))

	ctx := context.Background()
	m.StartStartupServices(ctx, []string{"boot"})

	require.Eventually(t, func() bool {
		return m.Snapshot()[0].State == bloom.Running
	}, time.Second, 10*time.Millisecond)

	m.Shutdown(2 * time.Second)
	assert.NotPanics(t, func() { m.Shutdown(time.Second) })

	assert.Equal(t, bloom.Stopped, m.Snapshot()[0].State)
}

// TestStart_ReturnsNotFoundForUnknownService exercises the registry
// lookup failure path shared by Start/Stop.
func TestStart_ReturnsNotFoundForUnknownService(t *testing.T) {
	m := New(nil)
	err := m.Start("nonexistent")
	require.Error(t, err)
	assert.True(t, bloom.Is(err, bloom.KindNotFound))
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	d1 := sleeperDescriptor(t, "dup", 50, nil, "")
	d2 := sleeperDescriptor(t, "dup", 50, nil, "")
	m := New(nil)
	require.NoError(t, m.Register([]*service.Descriptor{d1}))
	err := m.Register([]*service.Descriptor{d2})
	require.Error(t, err)
	assert.True(t, bloom.Is(err, bloom.KindAlreadyRegistered))
}
