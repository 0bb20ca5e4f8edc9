// Package launcher implements spec §4.C: spawning and stopping service
// child processes with user/group/umask/nice/env/cwd/IO redirection and
// optional controlling-TTY handoff.
//
// Grounded on util/command.T (options-style command runner with
// zerolog-backed line logging and SysProcAttr credential application)
// generalized to the full launch/stop contract, and on
// original_source/verdantd/src/process.rs + control.rs for the stop
// escalation timing.
package launcher

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anmitsu/go-shlex"
	"golang.org/x/sys/unix"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

// Launcher spawns and stops service child processes.
type Launcher struct {
	log *bloom.Logger
}

func New(log *bloom.Logger) *Launcher {
	return &Launcher{log: log}
}

// Handle is the owned process handle from spec §3 SupervisorState.child.
// It is exclusively owned by one supervisor at a time.
type Handle struct {
	Cmd       *exec.Cmd
	Pid       int
	StartTime time.Time

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error
}

// TryWait is a non-blocking poll for exit, used by the supervisor loop's
// "non-blocking wait on the child" step (spec §4.D loop contract #3). It
// reaps the child with a background goroutine calling Wait once and
// caching the result, so repeated polling never blocks.
func (h *Handle) TryWait() (exited bool, code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited, h.exitCode
}

func (h *Handle) awaitExit() {
	err := h.Cmd.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
	h.waitErr = err
	if h.Cmd.ProcessState != nil {
		h.exitCode = h.Cmd.ProcessState.ExitCode()
	}
}

// Launch implements spec §4.C's launch contract.
func (l *Launcher) Launch(d *service.Descriptor) (*Handle, error) {
	if tty, ok := d.IsTTYService(); ok {
		if isGettyBin(d.Cmd) {
			return l.launchTTY(d, tty)
		}
	}

	if err := ensureLogDir(d.StdoutLog); err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "creating stdout log directory")
	}
	if err := ensureLogDir(d.StderrLog); err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "creating stderr log directory")
	}
	stdout, err := openAppend(d.StdoutLog)
	if err != nil {
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "opening stdout log")
	}
	stderr, err := openAppend(d.StderrLog)
	if err != nil {
		stdout.Close()
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "opening stderr log")
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "opening /dev/null")
	}

	name, args, err := commandLine(d)
	if err != nil {
		stdout.Close()
		stderr.Close()
		devnull.Close()
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "building command line")
	}

	cmd := exec.Command(name, args...)
	cmd.Stdin = devnull
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if d.WorkingDir != "" {
		cmd.Dir = d.WorkingDir
	}
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}

	attr := &syscall.SysProcAttr{Setsid: true}
	if err := applyCredential(attr, d.User, d.Group); err != nil {
		stdout.Close()
		stderr.Close()
		devnull.Close()
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, "resolving user/group")
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		devnull.Close()
		return nil, bloom.Wrap(bloom.KindLaunchFailed, err, fmt.Sprintf("starting service %q", d.Name))
	}

	h := &Handle{Cmd: cmd, Pid: cmd.Process.Pid, StartTime: time.Now()}
	go h.awaitExit()

	l.applyNice(d, h.Pid)

	if l.log != nil {
		l.log.Bothf(bloom.Info, "started %q (pid %d)", d.Name, h.Pid)
	}
	return h, nil
}

// applyNice sets pid's scheduling priority via golang.org/x/sys/unix,
// the spec §4.C step 4 "set priority from nice" applied from the parent
// once the child exists rather than through commandLine's shell wrapper
// — unlike umask, niceness is a per-process attribute a parent can
// adjust on an already-started child, so this needs no pre-exec trick.
func (l *Launcher) applyNice(d *service.Descriptor, pid int) {
	if d.Nice == service.DefaultNice {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, d.Nice); err != nil {
		if l.log != nil {
			l.log.Bothf(bloom.Warn, "setting nice=%d for %q (pid %d) failed: %v", d.Nice, d.Name, pid, err)
		}
	}
}

// applyCredential performs the group and user part of the "between fork
// and exec" steps of spec §4.C step 4 by setting attr.Credential (session
// is handled by the caller via Setsid; umask by commandLine's shell
// wrapper; nice by applyNice after start — Go's os/exec has no pre_exec
// hook the way Rust/C fork does, see DESIGN.md open-question
// resolution #4).
func applyCredential(attr *syscall.SysProcAttr, userName, groupName string) error {
	var uid, gid uint32
	haveUID, haveGID := false, false

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return bloom.Wrap(bloom.KindLaunchFailed, err, "group lookup")
		}
		n, _ := strconv.ParseUint(g.Gid, 10, 32)
		gid = uint32(n)
		haveGID = true
	}
	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return bloom.Wrap(bloom.KindLaunchFailed, err, "user lookup")
		}
		n, _ := strconv.ParseUint(u.Uid, 10, 32)
		uid = uint32(n)
		haveUID = true
		if !haveGID {
			gn, _ := strconv.ParseUint(u.Gid, 10, 32)
			gid = uint32(gn)
			haveGID = true
		}
	}
	if haveUID || haveGID {
		attr.Credential = &syscall.Credential{Uid: uid, Gid: gid}
	}
	return nil
}

// commandLine builds the argv to exec. When umask is non-default the
// real command is wrapped in a `/bin/sh -c` invocation that applies it
// before exec'ing the target — umask is inherited at fork time, so
// unlike niceness (applied post-start via applyNice) it can't be set on
// an already-running child from the parent; Go's os/exec has no
// pre-exec hook to set it directly between fork and exec either.
func commandLine(d *service.Descriptor) (string, []string, error) {
	if d.Umask == service.DefaultUmask || d.Umask == "" {
		return d.Cmd, d.Args, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "umask %s; exec ", d.Umask)
	sb.WriteString(shellQuote(d.Cmd))
	for _, a := range d.Args {
		sb.WriteString(" ")
		sb.WriteString(shellQuote(a))
	}
	return "/bin/sh", []string{"-c", sb.String()}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func ensureLogDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// shellCommandArgs splits a pre-cmd/post-cmd/stop-cmd shell string into
// argv the same way util/command.commandArgsFromString does: if it
// contains shell metacharacters, run it via /bin/sh -c; otherwise
// shlex-split it. Grounded on util/command.commandArgsFromString.
func shellCommandArgs(s string) (string, []string, error) {
	needsShell := strings.ContainsAny(s, "|;") || strings.Contains(s, "&&")
	if needsShell {
		return "/bin/sh", []string{"-c", s}, nil
	}
	parts, err := shlex.Split(s, true)
	if err != nil {
		return "", nil, err
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return parts[0], parts[1:], nil
}

// isGettyBin reports whether cmd looks like a getty-family binary, used
// to gate the TTY handoff branch of Launch. Grounded on
// original_source/init/src/tty.rs's GETTY_CANDIDATES.
func isGettyBin(cmd string) bool {
	base := filepath.Base(cmd)
	switch base {
	case "agetty", "getty", "mingetty":
		return true
	default:
		return false
	}
}

// gettyCommNames lists the process `comm` values that identify an
// interactive getty occupying a tty, used by IsTTYInUse to distinguish
// "getty idling on this tty" from "a user is logged in".
var gettyCommNames = map[string]bool{
	"agetty":   true,
	"getty":    true,
	"mingetty": true,
	"login":    true,
}

// IsTTYInUse implements spec §4.C's TTY-in-use probe: scan /proc/*/fd
// for symlinks resolving to /dev/ttyN whose owning process's comm is not
// a getty-family name.
func (l *Launcher) IsTTYInUse(tty string) (bool, error) {
	target := "/dev/" + tty
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return false, bloom.Wrap(bloom.KindIo, err, "reading /proc")
	}
	for _, p := range procs {
		if !p.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(p.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", p.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		matched := false
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && link == target {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", p.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		if !gettyCommNames[name] {
			_ = pid
			return true, nil
		}
	}
	return false, nil
}

// ConsoleTTY reads the kernel's console= boot parameter, supplementing
// spec with the shutdown console-exemption feature from
// original_source/verdantd/src/shutdown.rs get_console_tty.
func ConsoleTTY() (string, bool) {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return "", false
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		tok := scanner.Text()
		if rest, ok := strings.CutPrefix(tok, "console="); ok {
			return rest, true
		}
	}
	return "", false
}
