package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

// launchTTY implements the console-handoff branch of Launch for
// getty-family descriptors (spec §4.C "TTY handoff"). It opens the
// target /dev/ttyN itself and hands it to the child as stdin/stdout/
// stderr, making the child the session leader and controlling-terminal
// owner via SysProcAttr.Setctty/Ctty — Go's equivalent of the
// open+ioctl(TIOCSCTTY)+dup2 sequence original_source/init/src/tty.rs
// performs by hand, expressed natively instead of via golang.org/x/sys/
// unix.IoctlSetInt because exec.Cmd already exposes the fields for it.
func (l *Launcher) launchTTY(d *service.Descriptor, tty string) (*Handle, error) {
	ttyPath := "/dev/" + tty
	f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "opening "+ttyPath)
	}
	defer f.Close()

	name, args, err := commandLine(d)
	if err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "building command line")
	}

	cmd := exec.Command(name, args...)
	cmd.Stdin = f
	cmd.Stdout = f
	cmd.Stderr = f
	if d.WorkingDir != "" {
		cmd.Dir = d.WorkingDir
	}
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}

	attr := &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 of the child == cmd.Stdin == the tty we opened
	}
	if err := applyCredential(attr, d.User, d.Group); err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "resolving user/group")
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, fmt.Sprintf("starting getty on %s", tty))
	}

	h := &Handle{Cmd: cmd, Pid: cmd.Process.Pid, StartTime: time.Now()}
	go h.awaitExit()

	l.applyNice(d, h.Pid)

	if l.log != nil {
		l.log.Bothf(bloom.Info, "started %q on %s (pid %d)", d.Name, tty, h.Pid)
	}
	return h, nil
}
