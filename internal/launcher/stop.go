package launcher

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

const (
	pollInterval  = 100 * time.Millisecond
	killPollTotal = 2 * time.Second
)

// Stop implements spec §4.C's stop contract: run stop-cmd (if any) with
// $MAINPID substituted, then SIGTERM the process group, poll for exit up
// to timeout_stop, SIGKILL and poll again up to 2s. A process already
// gone (ESRCH) is treated as a successful stop, not an error — grounded
// on original_source/verdantd/src/control.rs stop_service.
func (l *Launcher) Stop(d *service.Descriptor, h *Handle) error {
	timeout := time.Duration(d.TimeoutStop) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(service.DefaultTimeoutStop) * time.Second
	}

	if d.StopCmd != "" {
		if err := l.runStopCmd(d, h.Pid, timeout); err != nil && l.log != nil {
			l.log.Bothf(bloom.Warn, "stop-cmd for %q failed: %v", d.Name, err)
		}
	}

	if exited, _ := h.TryWait(); exited {
		return nil
	}

	if err := signalGroup(h.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return bloom.Wrap(bloom.KindStopFailed, err, "sending SIGTERM")
	}

	if waitExit(h, timeout) {
		return nil
	}

	if l.log != nil {
		l.log.Bothf(bloom.Warn, "%q did not stop within %s, sending SIGKILL", d.Name, timeout)
	}
	if err := signalGroup(h.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return bloom.Wrap(bloom.KindStopFailed, err, "sending SIGKILL")
	}

	if waitExit(h, killPollTotal) {
		return nil
	}
	return bloom.New(bloom.KindStopFailed, "process did not exit after SIGKILL")
}

// waitExit polls Handle.TryWait at pollInterval until it reports exited
// or timeout elapses.
func waitExit(h *Handle, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if exited, _ := h.TryWait(); exited {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// signalGroup signals the process group led by pid (negative pid),
// since Launch always starts the child as its own session/group leader
// via Setsid.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err != nil && errors.Is(err, syscall.ESRCH) {
		return syscall.ESRCH
	}
	return err
}

// runStopCmd executes d.StopCmd with $MAINPID expanded to the running
// service's pid, per spec §4.C step "stop-cmd substitution". Bounded by
// timeout (spec §4.C "execute it via a shell ... bounded by
// timeout_stop"): the command runs in its own process group so a hang
// (blocked I/O, `sleep infinity`) can be killed outright on timeout
// instead of leaving Stop blocked on cmd.Run() forever.
func (l *Launcher) runStopCmd(d *service.Descriptor, pid int, timeout time.Duration) error {
	expanded := strings.ReplaceAll(d.StopCmd, "$MAINPID", strconv.Itoa(pid))
	name, args, err := shellCommandArgs(expanded)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return bloom.New(bloom.KindStopFailed,
			"stop-cmd did not exit within timeout_stop and was killed")
	}
	return err
}
