// Package ocimeta implements the OCI Metadata Record (C2): a truncated,
// YAML-persisted summary of an OCI manifest kept alongside each sysroot
// slot so a later invocation can tell which layers a slot already has
// without re-fetching the manifest.
package ocimeta

import (
	"os"
	"path/filepath"

	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	digest "github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/utils"
)

// Descriptor is the truncated {media-type, digest, size} triple spec §3 defines.
type Descriptor struct {
	MediaType string        `yaml:"media-type"`
	Digest    digest.Digest `yaml:"digest"`
	Size      int64         `yaml:"size"`
}

// Record is the on-disk OCI Metadata Record for one slot.
type Record struct {
	SchemaVersion int          `yaml:"schema-version"`
	Config        Descriptor   `yaml:"config"`
	Layers        []Descriptor `yaml:"layers"`
}

// FromManifest truncates a fetched OCI manifest to the fields this record
// tracks, preserving layer order (base layer first).
func FromManifest(manifest *gcrv1.Manifest) *Record {
	r := &Record{
		SchemaVersion: int(manifest.SchemaVersion),
		Config: Descriptor{
			MediaType: string(manifest.Config.MediaType),
			Digest:    digest.Digest(manifest.Config.Digest.String()),
			Size:      manifest.Config.Size,
		},
	}
	for _, l := range manifest.Layers {
		r.Layers = append(r.Layers, Descriptor{
			MediaType: string(l.MediaType),
			Digest:    digest.Digest(l.Digest.String()),
			Size:      l.Size,
		})
	}
	return r
}

// HasLayer reports whether d is among the tracked layer digests.
func (r *Record) HasLayer(d digest.Digest) bool {
	for _, l := range r.Layers {
		if l.Digest == d {
			return true
		}
	}
	return false
}

// LayerDigests returns the tracked layer digests in manifest order.
func (r *Record) LayerDigests() []digest.Digest {
	out := make([]digest.Digest, len(r.Layers))
	for i, l := range r.Layers {
		out[i] = l.Digest
	}
	return out
}

// Save writes r to slotDir/oci-meta, atomically (temp sibling + rename).
// Fails with NotFound if slotDir does not exist.
func Save(r *Record, slotDir string) error {
	if _, err := os.Stat(slotDir); err != nil {
		if os.IsNotExist(err) {
			return bootrerr.NotFoundf("slot directory %s does not exist", slotDir)
		}
		return bootrerr.IOf(err, "stat slot directory %s", slotDir)
	}
	path := metaPath(slotDir)
	if err := utils.AtomicWriteYAML(path, r); err != nil {
		return bootrerr.IOf(err, "write %s", path)
	}
	return nil
}

// pathLike is satisfied by a plain string or any named string type, letting
// Load accept a slot directory however the caller happens to have it typed,
// per the single "build a Metadata Record from any path-convertible value"
// capability called for in the design notes.
type pathLike interface {
	~string
}

// Load reads and parses the OCI Metadata Record for the given slot directory,
// reading slotDir/oci-meta. The argument must be the slot directory, not the
// oci-meta file path: "oci-meta" is always appended to it.
func Load[P pathLike](slotDir P) (*Record, error) {
	path := metaPath(string(slotDir))
	data, err := os.ReadFile(path) //nolint:gosec // path derived from catalog
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bootrerr.NotFoundf("oci-meta not found at %s", path)
		}
		return nil, bootrerr.IOf(err, "read %s", path)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, bootrerr.InvalidDataf(err, "parse oci-meta at %s", path)
	}
	return &r, nil
}

func metaPath(slotDir string) string {
	return filepath.Join(slotDir, "oci-meta")
}
