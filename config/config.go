// Package config implements the Config Surface (C8, collaborator): the
// image reference, registry credentials, and policy flags read from
// $ROOT/config.
package config

import (
	"os"
	"time"

	coretypes "github.com/projecteru2/core/types"
	"gopkg.in/yaml.v3"

	"github.com/tinythings/bootr/bootrerr"
)

// OCIRegistry holds the image reference to install/update from and its
// optional login credentials.
type OCIRegistry struct {
	Image string            `yaml:"image"`
	Login map[string]string `yaml:"login,omitempty"`
}

// System holds host update policy.
type System struct {
	Autoupdate bool     `yaml:"autoupdate"`
	Check      string   `yaml:"check,omitempty"`
	KeepData   []string `yaml:"keep-data,omitempty"`
}

// BootrConfig is the parsed $ROOT/config document (spec §6).
type BootrConfig struct {
	OCIRegistry OCIRegistry               `yaml:"oci-registry"`
	System      System                    `yaml:"system"`
	Log         coretypes.ServerLogConfig `yaml:"-"`
}

// DefaultConfig returns a BootrConfig with sensible defaults; oci-registry.image
// is left empty and must be supplied by the config file or caller.
func DefaultConfig() *BootrConfig {
	return &BootrConfig{
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads $ROOT/config, falling back to defaults when the file
// does not exist (a brand-new host has no config file yet).
func LoadConfig(path string) (*BootrConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, bootrerr.IOf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, bootrerr.InvalidDataf(err, "parse config %s", path)
	}
	return cfg, nil
}

// CheckInterval parses System.Check as a duration; the zero value means no
// interval is configured.
func (c *BootrConfig) CheckInterval() (time.Duration, error) {
	if c.System.Check == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.System.Check)
	if err != nil {
		return 0, bootrerr.InvalidDataf(err, "parse system.check %q", c.System.Check)
	}
	return d, nil
}
