// Package loader implements spec §4.A: reading *.vs descriptor files,
// expanding @-templates into instances, applying defaults, and
// validating the result.
//
// Grounded on original_source/verdantd/src/parser.rs and loader.rs.
package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

// applyTemplate replaces every literal "{}" in content with instance, if
// instance is non-empty. Mirrors parser::apply_template.
func applyTemplate(content, instance string) string {
	if instance == "" {
		return content
	}
	return strings.ReplaceAll(content, "{}", instance)
}

// parseServiceFile parses a single *.vs file, optionally substituting
// "{}" with instance first. It is called twice per templated file: once
// with instance == "" to discover the Instances list, then once per
// instance to produce the expanded descriptor.
func parseServiceFile(path, instance string) (*service.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, bloom.Wrap(bloom.KindIo, err, fmt.Sprintf("reading %s", path))
	}
	content := applyTemplate(string(raw), instance)

	d := &service.Descriptor{}
	seen := map[string]bool{}
	var currentKey string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmedLeading := strings.TrimLeft(line, " ")
		if line == "" || strings.HasPrefix(trimmedLeading, "#") {
			continue
		}

		isContinuation := strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
		if isContinuation {
			if currentKey == "" {
				continue
			}
			val := strings.TrimRight(strings.TrimLeft(line, " \t-"), " \t")
			appendListValue(d, currentKey, val)
			continue
		}

		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		currentKey = key
		seen[key] = true

		if err := setScalar(d, key, val); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, bloom.Wrap(bloom.KindIo, err, fmt.Sprintf("reading %s", path))
	}

	if d.Name == "" {
		return nil, bloom.New(bloom.KindConfigInvalid, fmt.Sprintf("service file %s missing required 'name'", path))
	}
	if d.Cmd == "" {
		return nil, bloom.New(bloom.KindConfigInvalid, fmt.Sprintf("service file %s missing required 'cmd'", path))
	}

	applyDefaults(d, seen)
	return d, nil
}

// appendListValue handles the continuation-line list keys: env,
// dependencies, tags, instances.
func appendListValue(d *service.Descriptor, key, val string) {
	switch key {
	case "env":
		d.Env = append(d.Env, val)
	case "dependencies":
		d.Dependencies = append(d.Dependencies, val)
	case "tags":
		d.Tags = append(d.Tags, val)
	case "instances":
		d.Instances = append(d.Instances, val)
	}
}

func setScalar(d *service.Descriptor, key, val string) error {
	switch key {
	case "name":
		d.Name = val
	case "desc":
		d.Desc = val
	case "cmd":
		d.Cmd = val
	case "args":
		if val != "" {
			d.Args = strings.Fields(val)
		}
	case "pre-cmd":
		d.PreCmd = val
	case "post-cmd":
		d.PostCmd = val
	case "startup-package":
		d.StartupPackage = val
	case "user":
		d.User = val
	case "group":
		d.Group = val
	case "working-dir":
		d.WorkingDir = val
	case "restart":
		d.Restart = bloom.ParseRestartPolicy(val)
	case "restart-delay":
		if n, err := strconv.Atoi(val); err == nil {
			d.RestartDelay = n
		}
	case "stop-cmd":
		d.StopCmd = val
	case "timeout-start":
		if n, err := strconv.Atoi(val); err == nil {
			d.TimeoutStart = n
		}
	case "timeout-stop":
		if n, err := strconv.Atoi(val); err == nil {
			d.TimeoutStop = n
		}
	case "priority":
		if n, err := strconv.Atoi(val); err == nil {
			d.Priority = n
		}
	case "stdout-log":
		d.StdoutLog = val
	case "stderr-log":
		d.StderrLog = val
	case "umask":
		d.Umask = val
	case "nice":
		if n, err := strconv.Atoi(val); err == nil {
			d.Nice = n
		}
	case "env":
		d.Env = nil
	case "dependencies":
		d.Dependencies = nil
	case "tags":
		d.Tags = nil
	case "instances":
		d.Instances = nil
	}
	return nil
}

// applyDefaults fills every field spec §4.A defaults, consulting seen so
// a field explicitly set to its "empty" value (priority: 0, nice: 0)
// isn't silently overwritten.
func applyDefaults(d *service.Descriptor, seen map[string]bool) {
	if !seen["restart-delay"] {
		d.RestartDelay = service.DefaultRestartDelay
	}
	if !seen["timeout-start"] {
		d.TimeoutStart = service.DefaultTimeoutStart
	}
	if !seen["timeout-stop"] {
		d.TimeoutStop = service.DefaultTimeoutStop
	}
	if !seen["umask"] {
		d.Umask = service.DefaultUmask
	}
	if !seen["nice"] {
		d.Nice = service.DefaultNice
	}
	if !seen["priority"] {
		d.Priority = service.DefaultPriority
	}
	if !seen["restart"] {
		d.Restart = bloom.Never
	}
	if d.StdoutLog == "" {
		d.StdoutLog = fmt.Sprintf("/var/log/verdant/services/%s.out.log", d.Name)
	}
	if d.StderrLog == "" {
		d.StderrLog = fmt.Sprintf("/var/log/verdant/services/%s.err.log", d.Name)
	}
}
