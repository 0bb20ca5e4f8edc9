// Package service defines the ServiceDescriptor value type from spec §3.
package service

import (
	"fmt"
	"strings"

	"github.com/saltnpepper97/verdant/internal/bloom"
)

// Descriptor is the immutable-after-load service descriptor. It is
// mutated only by the loader during template expansion / default-fill;
// once registered with the manager it is treated as frozen, and each
// supervisor holds its own clone.
//
// Grounded on original_source/verdantd/src/service_file.rs, generalizing
// RestartPolicy/defaults application per spec §3/§4.A.
type Descriptor struct {
	Name string
	Desc string

	Cmd  string
	Args []string

	WorkingDir string
	Env        []string // "K=V"
	User       string
	Group      string
	Umask      string // octal string, e.g. "022"
	Nice       int

	StdoutLog string
	StderrLog string

	PreCmd  string
	PostCmd string
	StopCmd string

	Restart      bloom.RestartPolicy
	RestartDelay int // seconds
	TimeoutStart int // seconds
	TimeoutStop  int // seconds

	Dependencies []string
	Priority     int

	StartupPackage string
	Instances      []string
	Tags           []string
}

// Defaults mirror spec §4.A "Defaults applied after parse".
const (
	DefaultRestartDelay = 0
	DefaultTimeoutStart = 10
	DefaultTimeoutStop  = 5
	DefaultUmask        = "022"
	DefaultNice         = 0
	DefaultPriority     = 50
)

// Defaults are applied by the loader while parsing, not here: several
// defaulted fields (priority, nice) have valid zero values, so "was this
// key present in the file" has to be tracked at parse time rather than
// inferred from the zero value after the fact (see internal/loader).

// Validate checks the invariants spec §3 lists for a single descriptor
// (name/cmd non-empty). Cross-descriptor invariants (uniqueness, acyclic
// dependency graph) are checked by internal/ordering.Order, and
// uniqueness again by the manager's Register.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return bloom.New(bloom.KindConfigInvalid, "service descriptor missing required 'name'")
	}
	if strings.TrimSpace(d.Cmd) == "" {
		return bloom.New(bloom.KindConfigInvalid, fmt.Sprintf("service %q missing required 'cmd'", d.Name))
	}
	return nil
}

// Clone returns a deep-enough copy safe for a supervisor to own
// independently of the loader's slice.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Args = append([]string(nil), d.Args...)
	c.Env = append([]string(nil), d.Env...)
	c.Dependencies = append([]string(nil), d.Dependencies...)
	c.Tags = append([]string(nil), d.Tags...)
	c.Instances = append([]string(nil), d.Instances...)
	return &c
}

// IsTTYService reports whether this descriptor is a `<base>@ttyN` getty
// instance, and returns the tty name (e.g. "tty1") if so. Grounded on
// spec §4.C/§4.D TTY arbitration and original_source/init/src/tty.rs's
// getty-family naming.
func (d *Descriptor) IsTTYService() (tty string, ok bool) {
	base, instance, found := strings.Cut(d.Name, "@")
	if !found {
		return "", false
	}
	if !strings.HasPrefix(instance, "tty") {
		return "", false
	}
	_ = base
	return instance, true
}
