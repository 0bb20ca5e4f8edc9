package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/launcher"
	"github.com/saltnpepper97/verdant/internal/service"
)

// fakeTTYProber satisfies ttyProber without touching /proc: IsTTYInUse
// reports true until Free is called, after which it reports false.
type fakeTTYProber struct {
	free  int32
	calls int32
}

func (f *fakeTTYProber) IsTTYInUse(tty string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return atomic.LoadInt32(&f.free) == 0, nil
}

func (f *fakeTTYProber) Free() { atomic.StoreInt32(&f.free, 1) }

// TestArbitrateTTY_NoLaunchWhileOccupiedThenExactlyOneAfterFree covers
// scenario S6 / testable property 9: while the probe reports the tty
// in use, the supervisor performs zero launches; once it frees up,
// exactly one launch happens.
func TestArbitrateTTY_NoLaunchWhileOccupiedThenExactlyOneAfterFree(t *testing.T) {
	orig := ttyRecheckInterval
	ttyRecheckInterval = 20 * time.Millisecond
	defer func() { ttyRecheckInterval = orig }()

	d := &service.Descriptor{
		Name:         "getty@tty7",
		Cmd:          "/bin/sleep",
		Args:         []string{"5"},
		Restart:      bloom.Always,
		RestartDelay: 0,
		Umask:        service.DefaultUmask,
		Nice:         service.DefaultNice,
		StdoutLog:    t.TempDir() + "/out.log",
		StderrLog:    t.TempDir() + "/err.log",
	}

	s := New(d, launcher.New(nil), nil)
	prober := &fakeTTYProber{}
	s.tty = prober

	s.mu.Lock()
	s.shouldRun = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// While the tty is reported occupied, the supervisor must never
	// reach Running.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, bloom.Stopped, s.Snapshot().State, "must not launch while tty is in use")
	assert.Equal(t, 0, s.Snapshot().Pid)
	assert.True(t, atomic.LoadInt32(&prober.calls) > 0, "probe must have been consulted")

	prober.Free()

	require.Eventually(t, func() bool {
		return s.Snapshot().State == bloom.Running
	}, time.Second, 10*time.Millisecond, "must launch exactly once the tty frees up")

	pid := s.Snapshot().Pid
	assert.NotZero(t, pid)

	// Give it a moment; the child (sleep 5) should still be the same
	// process, i.e. arbitration didn't cause a second relaunch.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, pid, s.Snapshot().Pid)

	cancel()
	<-done
}
