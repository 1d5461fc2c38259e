package sysroot

import (
	"os"
	"path/filepath"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/ocimeta"
	"github.com/tinythings/bootr/status"
)

// Record is the Sysroot Record (C5): an in-memory handle for one slot.
type Record struct {
	// Path is the slot directory, e.g. $ROOT/system/A.
	Path string
	// IsActive is true iff the activation link currently targets this slot.
	IsActive bool
	// IsEmpty is true when this slot has no status file yet, or its status
	// file could not be read (see loadRecord).
	IsEmpty bool
	// Status is the parsed Status Record, nil if IsEmpty.
	Status *status.Record
}

// Valid reports whether the slot contains everything a materialized slot
// must have (spec §3 invariant 3): status, oci-meta, and rootfs/.
func (r *Record) Valid(cat catalog.Catalog) bool {
	if r.IsEmpty || r.Status == nil {
		return false
	}
	if _, err := ocimeta.Load(r.Path); err != nil {
		return false
	}
	info, err := os.Stat(cat.RootfsDir(r.Path))
	return err == nil && info.IsDir()
}

// loadRecord builds a Record for slotDir. Load is best-effort: a missing or
// unreadable status file degrades IsEmpty to true rather than failing,
// matching the Rust original's load() behavior; an existing but unparseable
// status file is the one case that fails construction, since data corruption
// there must not be silently papered over.
func loadRecord(cat catalog.Catalog, slotDir string) (*Record, error) {
	r := &Record{Path: slotDir, IsEmpty: true}

	if status.Exists(slotDir) {
		st, err := status.Load(slotDir)
		if err != nil {
			if kind, ok := bootrerr.Of(err); ok && kind == bootrerr.KindInvalidData {
				return nil, err
			}
			return r, nil
		}
		r.Status = st
		r.IsEmpty = false
	}

	target, err := os.Readlink(cat.CurrentLink())
	if err == nil {
		r.IsActive = target == filepath.Base(slotDir)
	}
	return r, nil
}
