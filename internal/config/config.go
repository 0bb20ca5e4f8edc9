// Package config loads verdantd's own daemon configuration, generalizing
// the teacher's config.Type (config/main.go, a thin viper wrapper) from
// a generic key/value accessor into the daemon's fixed set of tunables:
// the service directory, the two IPC socket paths, and the log level/
// file, per SPEC_FULL.md's Configuration ambient-stack entry.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/loader"
)

// DefaultPath is where verdantd looks for its config file absent a
// -config flag override.
const DefaultPath = "/etc/verdant/verdantd.conf"

const (
	DefaultSocketPath         = "/run/verdant/verdantd.sock"
	DefaultUpstreamSocketPath = "/run/verdant/init.sock"
	DefaultLogFile            = "/var/log/verdant/verdantd.log"
)

// Daemon holds verdantd's resolved configuration.
type Daemon struct {
	ServiceDir         string
	SocketPath         string
	UpstreamSocketPath string
	LogLevel           bloom.LogLevel
	LogFile            string
}

// Load reads path (a TOML/YAML/JSON file, viper auto-detects by
// extension; a file whose extension viper does not know, such as the
// default verdantd.conf, is read as TOML) if present, filling in
// defaults for anything unset.
// A missing file is not an error: verdantd runs on defaults alone.
func Load(path string) (*Daemon, error) {
	v := viper.New()
	v.SetDefault("service_dir", loader.DefaultServiceDir)
	v.SetDefault("socket_path", DefaultSocketPath)
	v.SetDefault("upstream_socket_path", DefaultUpstreamSocketPath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", DefaultLogFile)

	if path != "" {
		v.SetConfigFile(path)
		if !slices.Contains(viper.SupportedExts, strings.TrimPrefix(filepath.Ext(path), ".")) {
			v.SetConfigType("toml")
		}
		// SetConfigFile points viper at an explicit path rather than a
		// search path, so a missing file surfaces as a plain *PathError
		// from ReadInConfig, not viper.ConfigFileNotFoundError (that
		// type is only returned by the SetConfigName/AddConfigPath
		// search form) — check existence ourselves instead of relying
		// on viper's error type.
		if _, statErr := os.Stat(path); statErr == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, bloom.Wrap(bloom.KindIo, err, "reading config "+path)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, bloom.Wrap(bloom.KindIo, statErr, "reading config "+path)
		}
	}

	return &Daemon{
		ServiceDir:         v.GetString("service_dir"),
		SocketPath:         v.GetString("socket_path"),
		UpstreamSocketPath: v.GetString("upstream_socket_path"),
		LogLevel:           parseLevel(v.GetString("log_level")),
		LogFile:            v.GetString("log_file"),
	}, nil
}

func parseLevel(s string) bloom.LogLevel {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return bloom.Warn
	case "fail", "error":
		return bloom.Fail
	case "ok":
		return bloom.Ok
	default:
		return bloom.Info
	}
}
