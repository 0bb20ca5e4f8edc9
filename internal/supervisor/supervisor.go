// Package supervisor runs the per-service state machine from spec §4.D:
// Stopped/Starting/Running/Stopping/Failed, restart policy handling, and
// TTY arbitration for getty descriptors.
//
// Grounded on original_source/verdantd/src/supervisor.rs for the state
// shape, but deliberately NOT for its concurrency pattern: the original
// holds a single Mutex<Supervisor> locked for the supervising thread's
// entire lifetime (manager.rs start_all: `let mut sup =
// supervisor.clone().lock().unwrap();` kept alive across the whole
// while-loop). spec §9 names that exact shape as a defect. Here the
// child Handle is owned exclusively by this goroutine; the mutex only
// ever guards a short copy-in/copy-out of an immutable Snapshot, and is
// never held across Launch/Stop, which block on real processes.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/launcher"
	"github.com/saltnpepper97/verdant/internal/service"
)

// pollInterval is how often the supervise loop checks the child for
// exit when it isn't blocked waiting on a context cancellation.
const pollInterval = 500 * time.Millisecond

// ttyRecheckInterval is how often arbitrateTTY re-probes an occupied
// tty. A package-level var (not a const) so tests can shorten it rather
// than waiting out the production interval.
var ttyRecheckInterval = 2 * time.Second

// Snapshot is an immutable, copyable view of a supervisor's state for
// status reporting (vctl status, the manager registry) without handing
// out the live Supervisor.
type Snapshot struct {
	Name      string
	State     bloom.State
	Pid       int
	StartedAt time.Time
	Restarts  int
}

// ttyProber is the slice of *launcher.Launcher that TTY arbitration
// needs. Split out as an interface (rather than calling s.l.IsTTYInUse
// directly) so tests can drive scenario S6 ("zero launches while the
// tty is in use, exactly one launch once it frees up") with a fake that
// flips from true to false on a timer, instead of needing real /proc
// state with an interactive login on an actual tty.
type ttyProber interface {
	IsTTYInUse(tty string) (bool, error)
}

// Supervisor owns one service's lifecycle. Exactly one goroutine (the
// one running Run) ever touches child/launcher after construction;
// everything else reads through Snapshot.
type Supervisor struct {
	desc *service.Descriptor
	l    *launcher.Launcher
	tty  ttyProber
	log  *bloom.Logger

	mu            sync.Mutex
	state         bloom.State
	pid           int
	startedAt     time.Time
	restarts      int
	shouldRun     bool
	shutdownExempt bool

	child *launcher.Handle
}

// New creates a supervisor in the idle Stopped state. It does not run
// until Start is called directly (vctl start / StartStartupServices) or
// its Run loop observes shouldRun via a later Start — registering a
// descriptor is not itself a request to launch it (spec §4.E: only
// startup-package members are launched at boot; everything else waits
// for an explicit start).
func New(desc *service.Descriptor, l *launcher.Launcher, log *bloom.Logger) *Supervisor {
	return &Supervisor{
		desc:  desc,
		l:     l,
		tty:   l,
		log:   log,
		state: bloom.Stopped,
	}
}

// StartupPackage returns the descriptor's startup package tag, read-only
// and safe from any goroutine since it's set once at construction and
// never mutated.
func (s *Supervisor) StartupPackage() string {
	return s.desc.StartupPackage
}

// SetShutdownExempt marks this supervisor as exempt from the stop
// fan-out triggered by Run's ctx cancellation branch. Used for the
// console-TTY shutdown exemption (SPEC_FULL.md supplemented feature 2):
// the getty bound to the kernel's console= tty must survive a shutdown
// request issued from that same console session.
func (s *Supervisor) SetShutdownExempt(exempt bool) {
	s.mu.Lock()
	s.shutdownExempt = exempt
	s.mu.Unlock()
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:      s.desc.Name,
		State:     s.state,
		Pid:       s.pid,
		StartedAt: s.startedAt,
		Restarts:  s.restarts,
	}
}

func (s *Supervisor) setState(st bloom.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run is the supervise loop (spec §4.D). It blocks until ctx is
// cancelled (manager shutdown) and then stops the child, if any, before
// returning. Grounded on supervisor.rs's supervise_loop, restructured to
// never hold s.mu across Launch/Stop/sleep.
func (s *Supervisor) Run(ctx context.Context) {
	if tty, ok := s.desc.IsTTYService(); ok {
		s.arbitrateTTY(ctx, tty)
	}

	s.runOnce(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			exempt := s.shutdownExempt
			s.mu.Unlock()
			if exempt {
				if s.log != nil {
					s.log.Bothf(bloom.Info, "%q exempted from shutdown fan-out (console tty)", s.desc.Name)
				}
				return
			}
			s.stopChild()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// arbitrateTTY implements spec §4.D's TTY arbitration: wait until the
// target tty isn't already occupied by a logged-in session before the
// first launch attempt.
func (s *Supervisor) arbitrateTTY(ctx context.Context, tty string) {
	for {
		inUse, err := s.tty.IsTTYInUse(tty)
		if err != nil || !inUse {
			return
		}
		if s.logf() != nil {
			s.logf().Bothf(bloom.Warn, "%s waiting: %s is occupied", s.desc.Name, tty)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ttyRecheckInterval):
		}
	}
}

func (s *Supervisor) logf() *bloom.Logger { return s.log }

// runOnce performs the initial launch attempt, mirroring supervisor.rs's
// start() guarded by should_run/handle-is-some.
func (s *Supervisor) runOnce(ctx context.Context) {
	s.mu.Lock()
	already := s.child != nil
	shouldRun := s.shouldRun
	s.mu.Unlock()
	if already || !shouldRun {
		return
	}
	s.launch()
}

func (s *Supervisor) launch() {
	s.setState(bloom.Starting)
	h, err := s.l.Launch(s.desc)
	if err != nil {
		s.setState(bloom.Failed)
		if s.log != nil {
			s.log.Bothf(bloom.Fail, "failed to start %q: %v", s.desc.Name, err)
		}
		return
	}
	s.mu.Lock()
	s.child = h
	s.pid = h.Pid
	s.startedAt = h.StartTime
	s.state = bloom.Running
	s.mu.Unlock()
}

// tick checks the child for exit without blocking the loop, and applies
// restart policy if it has exited.
func (s *Supervisor) tick(ctx context.Context) {
	s.mu.Lock()
	child := s.child
	shouldRun := s.shouldRun
	s.mu.Unlock()

	if child == nil {
		if shouldRun {
			s.launch()
		}
		return
	}

	exited, code := child.TryWait()
	if !exited {
		return
	}

	s.mu.Lock()
	s.child = nil
	s.pid = 0
	shouldRun = s.shouldRun
	s.mu.Unlock()

	// An out-of-band Stop has cleared shouldRun and owns the final state;
	// the restart policy must not relaunch behind it.
	if !shouldRun {
		return
	}
	s.applyRestartPolicy(ctx, code)
}

// applyRestartPolicy mirrors supervisor.rs's restart(): decide whether
// to relaunch based on the descriptor's restart policy and the exit
// code, honoring restart_delay.
func (s *Supervisor) applyRestartPolicy(ctx context.Context, exitCode int) {
	policy := s.desc.Restart
	restart := false
	switch policy {
	case bloom.Always:
		restart = true
	case bloom.OnFailure:
		restart = exitCode != 0
	case bloom.Never:
		restart = false
	}

	if !restart {
		s.mu.Lock()
		s.shouldRun = false
		s.mu.Unlock()
		s.setState(bloom.Stopped)
		return
	}

	s.setState(bloom.Failed)
	if s.log != nil {
		s.log.Bothf(bloom.Warn, "%q exited (code %d), restarting per policy %q",
			s.desc.Name, exitCode, policy)
	}

	delay := time.Duration(s.desc.RestartDelay) * time.Second
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if tty, ok := s.desc.IsTTYService(); ok {
		s.arbitrateTTY(ctx, tty)
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()

	s.launch()
}

// stopChild stops the currently running child, if any, and marks the
// supervisor Stopped. Called only from Run's ctx.Done() branch, so it
// never races with tick/launch (same goroutine).
func (s *Supervisor) stopChild() {
	s.mu.Lock()
	child := s.child
	s.state = bloom.Stopping
	s.mu.Unlock()

	if child != nil {
		if err := s.l.Stop(s.desc, child); err != nil {
			if s.log != nil {
				s.log.Bothf(bloom.Fail, "failed to stop %q cleanly: %v", s.desc.Name, err)
			}
			s.setState(bloom.Failed)
			s.mu.Lock()
			s.child = nil
			s.mu.Unlock()
			return
		}
	}

	s.mu.Lock()
	s.child = nil
	s.state = bloom.Stopped
	s.mu.Unlock()
}

// Stop requests an out-of-band stop (vctl stop <name>): it marks
// should_run false so the loop won't auto-restart, then stops the
// child directly. Safe to call concurrently with Run since it only
// touches the child through the launcher's own Stop, guarded by mu for
// the handle read.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.shouldRun = false
	child := s.child
	s.state = bloom.Stopping
	s.mu.Unlock()

	if child == nil {
		s.setState(bloom.Stopped)
		return nil
	}

	err := s.l.Stop(s.desc, child)
	s.mu.Lock()
	s.child = nil
	if err != nil {
		s.state = bloom.Failed
	} else {
		s.state = bloom.Stopped
	}
	s.mu.Unlock()
	return err
}

// Start requests an out-of-band (re)start (vctl start <name>). A tty
// service is not launched here: Run launches it once the TTY-in-use
// probe reports the tty free.
func (s *Supervisor) Start() {
	s.mu.Lock()
	s.shouldRun = true
	already := s.child != nil
	s.mu.Unlock()
	if already {
		return
	}
	if _, ok := s.desc.IsTTYService(); ok {
		return
	}
	s.launch()
}
