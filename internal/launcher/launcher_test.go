package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saltnpepper97/verdant/internal/service"
)

func TestCommandLine_NoWrapWhenDefaults(t *testing.T) {
	d := &service.Descriptor{
		Cmd:   "/usr/sbin/sshd",
		Args:  []string{"-D"},
		Umask: service.DefaultUmask,
		Nice:  service.DefaultNice,
	}
	name, args, err := commandLine(d)
	assert.NoError(t, err)
	assert.Equal(t, "/usr/sbin/sshd", name)
	assert.Equal(t, []string{"-D"}, args)
}

func TestCommandLine_WrapsForNonDefaultUmask(t *testing.T) {
	d := &service.Descriptor{
		Cmd:   "/usr/sbin/sshd",
		Args:  []string{"-D"},
		Umask: "077",
		Nice:  service.DefaultNice,
	}
	name, args, err := commandLine(d)
	assert.NoError(t, err)
	assert.Equal(t, "/bin/sh", name)
	assert.Equal(t, "-c", args[0])
	assert.Contains(t, args[1], "umask 077")
	assert.Contains(t, args[1], "/usr/sbin/sshd")
	assert.NotContains(t, args[1], "nice -n")
}

// Non-default nice no longer affects commandLine: it's applied on the
// already-started child via applyNice (golang.org/x/sys/unix.Setpriority),
// not through a shell pre-exec wrapper.
func TestCommandLine_IgnoresNonZeroNice(t *testing.T) {
	d := &service.Descriptor{
		Cmd:   "/usr/bin/worker",
		Umask: service.DefaultUmask,
		Nice:  10,
	}
	name, args, err := commandLine(d)
	assert.NoError(t, err)
	assert.Equal(t, "/usr/bin/worker", name)
	assert.Empty(t, args)
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestIsGettyBin(t *testing.T) {
	assert.True(t, isGettyBin("/sbin/agetty"))
	assert.True(t, isGettyBin("getty"))
	assert.False(t, isGettyBin("/usr/sbin/sshd"))
}

func TestIsTTYService_RecognizesGettyInstance(t *testing.T) {
	d := &service.Descriptor{Name: "getty@tty1"}
	tty, ok := d.IsTTYService()
	assert.True(t, ok)
	assert.Equal(t, "tty1", tty)
}

func TestShellCommandArgs_PlainCommandIsShlexSplit(t *testing.T) {
	name, args, err := shellCommandArgs("/bin/kill -TERM $MAINPID")
	assert.NoError(t, err)
	assert.Equal(t, "/bin/kill", name)
	assert.Equal(t, []string{"-TERM", "$MAINPID"}, args)
}

func TestShellCommandArgs_MetacharactersUseShell(t *testing.T) {
	name, args, err := shellCommandArgs("echo hi; echo bye")
	assert.NoError(t, err)
	assert.Equal(t, "/bin/sh", name)
	assert.Equal(t, []string{"-c", "echo hi; echo bye"}, args)
}
