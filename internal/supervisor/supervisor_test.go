package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/launcher"
	"github.com/saltnpepper97/verdant/internal/service"
)

func newTestSupervisor(t *testing.T, restart bloom.RestartPolicy) *Supervisor {
	t.Helper()
	d := &service.Descriptor{
		Name:         "echoer",
		Cmd:          "/bin/echo",
		Args:         []string{"hi"},
		Restart:      restart,
		RestartDelay: 0,
		Umask:        service.DefaultUmask,
		Nice:         service.DefaultNice,
		StdoutLog:    t.TempDir() + "/out.log",
		StderrLog:    t.TempDir() + "/err.log",
	}
	return New(d, launcher.New(nil), nil)
}

func TestSnapshot_InitialStateIsStopped(t *testing.T) {
	s := newTestSupervisor(t, bloom.Never)
	snap := s.Snapshot()
	assert.Equal(t, bloom.Stopped, snap.State)
	assert.Equal(t, 0, snap.Pid)
}

func TestApplyRestartPolicy_NeverStopsForGood(t *testing.T) {
	s := newTestSupervisor(t, bloom.Never)
	ctx := context.Background()
	s.applyRestartPolicy(ctx, 0)
	snap := s.Snapshot()
	assert.Equal(t, bloom.Stopped, snap.State)
	s.mu.Lock()
	shouldRun := s.shouldRun
	s.mu.Unlock()
	assert.False(t, shouldRun)
}

func TestApplyRestartPolicy_OnFailureOnlyRestartsOnNonZeroExit(t *testing.T) {
	s := newTestSupervisor(t, bloom.OnFailure)
	ctx := context.Background()
	s.applyRestartPolicy(ctx, 0)
	snap := s.Snapshot()
	assert.Equal(t, bloom.Stopped, snap.State)
}

func TestApplyRestartPolicy_AlwaysRestartsRegardlessOfExitCode(t *testing.T) {
	s := newTestSupervisor(t, bloom.Always)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.applyRestartPolicy(ctx, 0)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Restarts == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStop_MarksShouldRunFalse(t *testing.T) {
	s := newTestSupervisor(t, bloom.Always)
	err := s.Stop()
	assert.NoError(t, err)
	s.mu.Lock()
	shouldRun := s.shouldRun
	s.mu.Unlock()
	assert.False(t, shouldRun)
	assert.Equal(t, bloom.Stopped, s.Snapshot().State)
}
