package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/service"
)

// DefaultServiceDir is spec §4.A's default descriptor directory.
const DefaultServiceDir = "/etc/verdant/services"

// Load reads every *.vs file in dir, expanding @-templates into one
// descriptor per instance, applying defaults, and validating. Per-file
// parse failures are logged and the file is skipped; they do not abort
// the load (spec §4.A "Failures").
func Load(dir string, log *bloom.Logger) ([]*service.Descriptor, error) {
	if dir == "" {
		dir = DefaultServiceDir
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, bloom.Wrap(bloom.KindIo, err, "creating service directory "+dir)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, bloom.Wrap(bloom.KindIo, err, "reading service directory "+dir)
	}

	var out []*service.Descriptor
	var loaded, failed int

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".vs" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		descs, err := loadFile(path)
		if err != nil {
			failed++
			if log != nil {
				log.Bothf(bloom.Fail, "failed to parse service file %s: %v", path, err)
			}
			continue
		}
		out = append(out, descs...)
		loaded += len(descs)
	}

	if log != nil {
		log.Bothf(bloom.Ok, "parsed %d service descriptor(s), %d file(s) failed", loaded, failed)
	}
	return out, nil
}

// loadFile parses one *.vs file, expanding templates if the file name
// contains "@" before the extension, per spec §4.A "Template rule".
func loadFile(path string) ([]*service.Descriptor, error) {
	base := filepath.Base(path)
	isTemplate := strings.Contains(strings.TrimSuffix(base, filepath.Ext(base)), "@")

	first, err := parseServiceFile(path, "")
	if err != nil {
		return nil, err
	}

	if !isTemplate {
		if err := first.Validate(); err != nil {
			return nil, err
		}
		return []*service.Descriptor{first}, nil
	}

	// Templated file: per spec testable property 4, zero instances
	// yields zero descriptors (the base definition alone is never
	// registered as a service).
	if len(first.Instances) == 0 {
		return nil, nil
	}

	var out []*service.Descriptor
	var lastErr error
	for _, instance := range first.Instances {
		inst := strings.TrimSpace(instance)
		d, err := parseServiceFile(path, inst)
		if err != nil {
			// Per spec: unknown/bad instance values are permitted; a
			// per-instance parse failure is returned (and logged by
			// Load) only if it affects every instance. Here we keep
			// going, collecting what parses.
			lastErr = err
			continue
		}
		if err := d.Validate(); err != nil {
			lastErr = err
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
