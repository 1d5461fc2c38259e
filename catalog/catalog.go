// Package catalog derives the on-disk paths under a bootr root: the system
// directory, the slot directories, the activation links, and the per-slot
// files. It is not the only place these names appear: ocimeta, status and
// layer join "oci-meta", "status", "tmp" and blob file names onto a slot or
// rootfs directory themselves, and sysroot writes blob files the same way.
package catalog

import "path/filepath"

// Reserved slot names.
const (
	SlotA    = "A"
	SlotB    = "B"
	SlotTemp = ".temp"
)

// Per-slot file/directory names.
const (
	rootfsDirName   = "rootfs"
	statusFileName  = "status"
	ociMetaFileName = "oci-meta"
	installedMarker = ".installed"
	buildTmpDirName = "tmp"
)

// Activation link names, relative to the system directory.
const (
	currentLinkName     = "current"
	currentTempLinkName = "current.temp"
)

// ReservedHostDirs are pre-created as empty mountpoints in every rootfs the
// Layer Materializer builds, and are never touched by layer application.
var ReservedHostDirs = []string{"dev", "proc", "sys", "run"}

// DefaultRoot is used when no root is configured.
const DefaultRoot = "/bootr"

// Catalog derives every on-disk path from a single root, constructed once at
// process start and passed by value thereafter; it holds no mutable state.
type Catalog struct {
	root string
}

// New returns a Catalog rooted at root. It performs no validation (an empty
// root yields paths relative to the working directory) and no I/O.
func New(root string) Catalog {
	return Catalog{root: root}
}

// Root returns $ROOT.
func (c Catalog) Root() string { return c.root }

// ConfigFile returns $ROOT/config.
func (c Catalog) ConfigFile() string { return filepath.Join(c.root, "config") }

// SystemDir returns $ROOT/system.
func (c Catalog) SystemDir() string { return filepath.Join(c.root, "system") }

// SlotDir returns $ROOT/system/<name> for one of SlotA, SlotB, SlotTemp.
func (c Catalog) SlotDir(name string) string { return filepath.Join(c.SystemDir(), name) }

// RootfsDir returns the rootfs tree within a slot directory.
func (c Catalog) RootfsDir(slotDir string) string { return filepath.Join(slotDir, rootfsDirName) }

// StatusFile returns the status record path within a slot directory.
func (c Catalog) StatusFile(slotDir string) string { return filepath.Join(slotDir, statusFileName) }

// OCIMetaFile returns the OCI metadata record path within a slot directory.
func (c Catalog) OCIMetaFile(slotDir string) string {
	return filepath.Join(slotDir, ociMetaFileName)
}

// InstalledMarker returns the first-materialization marker path within a slot directory.
func (c Catalog) InstalledMarker(slotDir string) string {
	return filepath.Join(slotDir, installedMarker)
}

// BuildTmpDir returns the scratch sub-tree root used while unpacking diff layers.
func (c Catalog) BuildTmpDir(slotDir string) string {
	return filepath.Join(c.RootfsDir(slotDir), buildTmpDirName)
}

// BlobPath returns the content-addressed blob path for digest hex within a slot directory.
func (c Catalog) BlobPath(slotDir, hexDigest string) string {
	return filepath.Join(slotDir, hexDigest)
}

// CurrentLink returns the activation symlink path.
func (c Catalog) CurrentLink() string { return filepath.Join(c.SystemDir(), currentLinkName) }

// CurrentTempLink returns the staging symlink path used during the atomic flip.
func (c Catalog) CurrentTempLink() string {
	return filepath.Join(c.SystemDir(), currentTempLinkName)
}

// LockFile returns the host-level advisory lock path (see hostlock).
func (c Catalog) LockFile() string { return filepath.Join(c.SystemDir(), ".lock") }
