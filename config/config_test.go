package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinythings/bootr/bootrerr"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.OCIRegistry.Image)
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	doc := "oci-registry:\n  image: registry.example.com/foo/bar:1.2\n  login:\n    username: u\n    password: p\nsystem:\n  autoupdate: true\n  check: 24h\n  keep-data:\n    - /etc/custom\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "registry.example.com/foo/bar:1.2", cfg.OCIRegistry.Image)
	require.Equal(t, "u", cfg.OCIRegistry.Login["username"])
	require.True(t, cfg.System.Autoupdate)
	require.Equal(t, []string{"/etc/custom"}, cfg.System.KeepData)

	d, err := cfg.CheckInterval()
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, d)
}

func TestCheckIntervalInvalidIsInvalidData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.Check = "not-a-duration"
	_, err := cfg.CheckInterval()
	require.Error(t, err)
	require.ErrorIs(t, err, bootrerr.InvalidData)
}
