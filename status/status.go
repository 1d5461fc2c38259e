// Package status implements the Status Record (C7): the per-slot subset of
// an OCI image config that describes what was actually materialized.
package status

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/utils"
)

// HistoryEntry is one entry of the image's build history.
type HistoryEntry struct {
	Created     *time.Time `yaml:"created,omitempty"`
	Author      string     `yaml:"author,omitempty"`
	CreatedBy   string     `yaml:"created_by,omitempty"`
	Comment     string     `yaml:"comment,omitempty"`
	EmptyLayer  bool       `yaml:"empty_layer,omitempty"`
}

// Config is the small subset of OCI image config carried under "config".
type Config struct {
	Cmd    []string          `yaml:"cmd,omitempty"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// Rootfs is the rootfs section of the OCI image config.
type Rootfs struct {
	Type     string   `yaml:"type"`
	DiffIDs  []string `yaml:"diff_ids"`
}

// Record is the on-disk Status Record for one materialized slot.
type Record struct {
	// Digest is the pulled image's manifest digest (registry.PulledImage.Digest),
	// not part of the OCI image config itself — set by the caller after parsing.
	Digest       string         `yaml:"digest,omitempty"`
	Created      *time.Time     `yaml:"created,omitempty"`
	Author       string         `yaml:"author,omitempty"`
	Architecture string         `yaml:"architecture"`
	OS           string         `yaml:"os"`
	OSVersion    string         `yaml:"os.version,omitempty"`
	Config       Config         `yaml:"config,omitempty"`
	Rootfs       Rootfs         `yaml:"rootfs"`
	History      []HistoryEntry `yaml:"history,omitempty"`
}

// Save writes r to slotDir/status, atomically.
func Save(r *Record, slotDir string) error {
	path := filePath(slotDir)
	if err := utils.AtomicWriteYAML(path, r); err != nil {
		return bootrerr.IOf(err, "write %s", path)
	}
	return nil
}

// Load reads and parses the Status Record for the given slot directory.
// A malformed "created" timestamp is surfaced as InvalidData, not swallowed.
func Load(slotDir string) (*Record, error) {
	path := filePath(slotDir)
	data, err := os.ReadFile(path) //nolint:gosec // path derived from catalog
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bootrerr.NotFoundf("status not found at %s", path)
		}
		return nil, bootrerr.IOf(err, "read %s", path)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, bootrerr.InvalidDataf(err, "parse status at %s", path)
	}
	if r.Architecture == "" || r.OS == "" {
		return nil, bootrerr.InvalidDataf(nil, "status at %s missing required architecture/os", path)
	}
	return &r, nil
}

// Exists reports whether a status file is present for the slot.
func Exists(slotDir string) bool {
	_, err := os.Stat(filePath(slotDir))
	return err == nil
}

func filePath(slotDir string) string {
	return filepath.Join(slotDir, "status")
}
