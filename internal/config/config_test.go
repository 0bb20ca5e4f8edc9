package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/loader"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, loader.DefaultServiceDir, d.ServiceDir)
	assert.Equal(t, DefaultSocketPath, d.SocketPath)
	assert.Equal(t, DefaultUpstreamSocketPath, d.UpstreamSocketPath)
	assert.Equal(t, DefaultLogFile, d.LogFile)
	assert.Equal(t, bloom.Info, d.LogLevel)
}

func TestLoad_EmptyPathFallsBackToDefaults(t *testing.T) {
	d, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSocketPath, d.SocketPath)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdantd.toml")
	contents := `
service_dir = "/opt/verdant/services"
socket_path = "/run/verdant/custom.sock"
log_level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/verdant/services", d.ServiceDir)
	assert.Equal(t, "/run/verdant/custom.sock", d.SocketPath)
	assert.Equal(t, bloom.Warn, d.LogLevel)
	// unset keys still fall back to defaults
	assert.Equal(t, DefaultUpstreamSocketPath, d.UpstreamSocketPath)
}

func TestParseLevel_RecognizesAllLevels(t *testing.T) {
	assert.Equal(t, bloom.Info, parseLevel("info"))
	assert.Equal(t, bloom.Warn, parseLevel("warning"))
	assert.Equal(t, bloom.Fail, parseLevel("error"))
	assert.Equal(t, bloom.Ok, parseLevel("ok"))
	assert.Equal(t, bloom.Info, parseLevel("nonsense"))
}
