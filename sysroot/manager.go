// Package sysroot implements the Sysroot Manager (C6): it owns the two A/B
// slots under $ROOT/system, and drives install, update, and activation.
package sysroot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/projecteru2/core/log"
	"golang.org/x/sys/unix"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/config"
	"github.com/tinythings/bootr/layer"
	"github.com/tinythings/bootr/ocimeta"
	progresspkg "github.com/tinythings/bootr/progress"
	"github.com/tinythings/bootr/progress/install"
	"github.com/tinythings/bootr/registry"
	"github.com/tinythings/bootr/status"
)

// Puller is the shape of registry.Pull, factored out as a field on Manager
// so tests can substitute a fake registry without touching the network.
type Puller func(ctx context.Context, imageRef string, knownDigests []digest.Digest, creds *registry.Credentials) (*registry.PulledImage, error)

// Manager is the Sysroot Manager (C6): the single entry point for install,
// update, and activation, holding the loaded Records for slot A and B.
type Manager struct {
	cat     catalog.Catalog
	cfg     *config.BootrConfig
	records map[string]*Record

	// Progress receives install/update/download events. Nop if unset.
	Progress progresspkg.Tracker

	// Puller fetches an image's manifest and layers. Defaults to
	// registry.Pull; overridden in tests.
	Puller Puller
}

// NewManager constructs a Manager rooted at cat and loads both slots.
func NewManager(ctx context.Context, cat catalog.Catalog, cfg *config.BootrConfig) (*Manager, error) {
	m := &Manager{cat: cat, cfg: cfg, Progress: progresspkg.Nop, Puller: registry.Pull}
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Init (re)creates the system/A/B directories if missing and (re)loads both
// slot Records. It is safe to call repeatedly; every mutating operation on
// Manager ends by calling Init again to refresh state.
func (m *Manager) Init(ctx context.Context) error {
	logger := log.WithFunc("sysroot.Manager.Init")

	dirs := []string{
		m.cat.SystemDir(),
		m.cat.SlotDir(catalog.SlotA),
		m.cat.SlotDir(catalog.SlotB),
	}
	if err := ensureDirs(dirs...); err != nil {
		return bootrerr.IOf(err, "create system directories")
	}

	records := make(map[string]*Record, 2)
	for _, name := range []string{catalog.SlotA, catalog.SlotB} {
		slotDir := m.cat.SlotDir(name)
		rec, err := loadRecord(m.cat, slotDir)
		if err != nil {
			return err
		}
		records[slotDir] = rec
		logger.Infof(ctx, "loaded slot %s: empty=%v active=%v", name, rec.IsEmpty, rec.IsActive)
	}
	m.records = records
	return nil
}

// GetSysroot returns the currently active slot Record, if any.
func (m *Manager) GetSysroot() (*Record, bool) {
	for _, r := range m.records {
		if r.IsActive {
			return r, true
		}
	}
	return nil, false
}

// GetSysrootMeta returns the Status Record of the currently active slot, if any.
func (m *Manager) GetSysrootMeta() (*status.Record, bool) {
	r, ok := m.GetSysroot()
	if !ok || r.Status == nil {
		return nil, false
	}
	return r.Status, true
}

// SetActiveByID activates the named slot (catalog.SlotA or catalog.SlotB),
// flipping the activation link atomically. It is a no-op if id is already active.
func (m *Manager) SetActiveByID(ctx context.Context, id string) error {
	logger := log.WithFunc("sysroot.Manager.SetActiveByID")

	target := m.cat.SlotDir(id)
	rec, ok := m.records[target]
	if !ok {
		return bootrerr.NotFoundf("unknown sysroot slot %q", id)
	}
	if rec.IsActive {
		return nil
	}

	currentLink := m.cat.CurrentLink()
	tempLink := m.cat.CurrentTempLink()

	if err := os.Remove(tempLink); err != nil && !os.IsNotExist(err) {
		return bootrerr.IOf(err, "remove stale %s", tempLink)
	}

	if _, err := os.Lstat(currentLink); err != nil {
		if !os.IsNotExist(err) {
			return bootrerr.IOf(err, "stat %s", currentLink)
		}
		if err := os.Symlink(id, currentLink); err != nil {
			return bootrerr.IOf(err, "create %s", currentLink)
		}
		logger.Infof(ctx, "activated %s (no prior activation link)", id)
		return m.Init(ctx)
	}

	if err := os.Symlink(id, tempLink); err != nil {
		return bootrerr.IOf(err, "create %s", tempLink)
	}
	if err := exchangeRename(tempLink, currentLink); err != nil {
		return bootrerr.IOf(err, "flip activation link to %s", id)
	}

	logger.Infof(ctx, "activated %s", id)
	return m.Init(ctx)
}

// SetActiveLatest activates the slot whose status was most recently written,
// when no activation link currently exists. It is a no-op if one already does.
func (m *Manager) SetActiveLatest(ctx context.Context) error {
	if _, err := os.Lstat(m.cat.CurrentLink()); err == nil {
		return nil
	}

	var bestID string
	var bestTime time.Time
	for _, name := range []string{catalog.SlotA, catalog.SlotB} {
		rec := m.records[m.cat.SlotDir(name)]
		if rec == nil || rec.IsEmpty {
			continue
		}
		info, err := os.Stat(m.cat.StatusFile(rec.Path))
		if err != nil {
			continue
		}
		if bestID == "" || info.ModTime().After(bestTime) {
			bestID, bestTime = name, info.ModTime()
		}
	}
	if bestID == "" {
		return bootrerr.NotFoundf("no materialized sysroot slot to activate")
	}
	return m.SetActiveByID(ctx, bestID)
}

// InstallOptions controls optional install behavior.
type InstallOptions struct {
	// KeepKernel copies /boot and /lib/modules from the currently active
	// rootfs into the newly materialized one, when an active slot exists
	// (spec's keep_kernel supplement). Ignored on a first install.
	KeepKernel bool
}

// Install provisions a brand-new host from scratch. It fails with
// AlreadyExists if an activation link already exists or either slot is
// non-empty — this is a one-time operation.
func (m *Manager) Install(ctx context.Context, opts InstallOptions) error {
	logger := log.WithFunc("sysroot.Manager.Install")

	if _, err := os.Lstat(m.cat.CurrentLink()); err == nil {
		return bootrerr.AlreadyExistsf("system seems already installed")
	}
	for _, name := range []string{catalog.SlotA, catalog.SlotB} {
		if rec := m.records[m.cat.SlotDir(name)]; rec != nil && !rec.IsEmpty {
			return bootrerr.AlreadyExistsf("system seems already installed")
		}
	}

	tempDir := m.cat.SlotDir(catalog.SlotTemp)
	if err := os.RemoveAll(tempDir); err != nil {
		return bootrerr.IOf(err, "clear staging directory %s", tempDir)
	}
	if err := ensureDirs(tempDir); err != nil {
		return bootrerr.IOf(err, "create staging directory %s", tempDir)
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseDownload})
	if err := m.Download(ctx, tempDir); err != nil {
		return err
	}

	meta, err := ocimeta.Load(tempDir)
	if err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseMaterialize})
	rootfsDir := m.cat.RootfsDir(tempDir)
	if err := materializeFromMeta(ctx, tempDir, rootfsDir, meta); err != nil {
		return err
	}

	if opts.KeepKernel {
		if active, ok := m.GetSysroot(); ok {
			if err := keepKernel(m.cat.RootfsDir(active.Path), rootfsDir); err != nil {
				return err
			}
		}
	}

	if err := markInstalled(m.cat, tempDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseCommit})
	targetDir := m.cat.SlotDir(catalog.SlotA)
	if err := commitSlot(tempDir, targetDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseActivate})
	if err := m.Init(ctx); err != nil {
		return err
	}
	if err := m.SetActiveByID(ctx, catalog.SlotA); err != nil {
		return err
	}
	if err := clearInstalledMarker(m.cat, targetDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseDone})
	logger.Infof(ctx, "install complete, slot %s active", catalog.SlotA)
	return nil
}

// Update provisions the inactive slot from the configured image, then
// activates it. If neither slot is materialized, Update behaves like a
// first Install.
//
// Download always runs in full (no known-digest seeding): Materialize
// requires every referenced blob to be physically present in the staging
// directory, and a blob already consumed by a prior materialize (spec §3
// invariant 4) can never satisfy that, so skipping its re-fetch would leave
// Materialize unable to find it. Reusing an unchanged layer's bytes would
// require sourcing them from the target slot's already-unpacked rootfs
// rather than its blob (which no longer exists once that slot was
// materialized) — a capability the Materializer does not have.
func (m *Manager) Update(ctx context.Context) error {
	logger := log.WithFunc("sysroot.Manager.Update")

	active, hasActive := m.GetSysroot()
	if !hasActive {
		return m.Install(ctx, InstallOptions{})
	}

	targetName := catalog.SlotB
	if filepath.Base(active.Path) == catalog.SlotB {
		targetName = catalog.SlotA
	}
	targetDir := m.cat.SlotDir(targetName)

	tempDir := m.cat.SlotDir(catalog.SlotTemp)
	if err := os.RemoveAll(tempDir); err != nil {
		return bootrerr.IOf(err, "clear staging directory %s", tempDir)
	}
	if err := ensureDirs(tempDir); err != nil {
		return bootrerr.IOf(err, "create staging directory %s", tempDir)
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseDownload})
	if err := m.Download(ctx, tempDir); err != nil {
		return err
	}

	meta, err := ocimeta.Load(tempDir)
	if err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseMaterialize})
	rootfsDir := m.cat.RootfsDir(tempDir)
	if err := materializeFromMeta(ctx, tempDir, rootfsDir, meta); err != nil {
		return err
	}
	if err := markInstalled(m.cat, tempDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseCommit})
	if err := commitSlot(tempDir, targetDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseActivate})
	if err := m.Init(ctx); err != nil {
		return err
	}
	if err := m.SetActiveByID(ctx, targetName); err != nil {
		return err
	}
	if err := clearInstalledMarker(m.cat, targetDir); err != nil {
		return err
	}

	m.Progress.OnEvent(install.Event{Phase: install.PhaseDone})
	logger.Infof(ctx, "update complete, slot %s active", targetName)
	return nil
}

// Download fetches the configured image into dst, writing each fetched
// layer blob as dst/<hex-digest>, the parsed Status Record as dst/status,
// and finally dst/oci-meta. dst must already exist. Layers already named in
// dst's existing oci-meta are not re-fetched.
func (m *Manager) Download(ctx context.Context, dst string) error {
	logger := log.WithFunc("sysroot.Manager.Download")

	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return bootrerr.NotFoundf("staging directory %s does not exist", dst)
		}
		return bootrerr.IOf(err, "stat %s", dst)
	}

	var knownDigests []digest.Digest
	if existing, err := ocimeta.Load(dst); err == nil {
		knownDigests = existing.LayerDigests()
	}

	var creds *registry.Credentials
	if user, pass := m.cfg.OCIRegistry.Login["username"], m.cfg.OCIRegistry.Login["password"]; user != "" || pass != "" {
		creds = &registry.Credentials{Username: user, Password: pass}
	}

	pulled, err := m.Puller(ctx, m.cfg.OCIRegistry.Image, knownDigests, creds)
	if err != nil {
		return err
	}

	for i, l := range pulled.Layers {
		if l.Data == nil {
			continue
		}
		path := filepath.Join(dst, l.Digest.Encoded())
		if err := os.WriteFile(path, l.Data, 0o644); err != nil { //nolint:gosec
			return bootrerr.IOf(err, "write layer blob %s", path)
		}
		logger.Infof(ctx, "wrote layer %d/%d: %s", i+1, len(pulled.Layers), l.Digest)
	}

	rec, err := status.FromImageConfig(pulled.ConfigBytes)
	if err != nil {
		return err
	}
	rec.Digest = pulled.Digest.String()
	if err := status.Save(rec, dst); err != nil {
		return err
	}

	meta := ocimeta.FromManifest(pulled.Manifest)
	if err := ocimeta.Save(meta, dst); err != nil {
		return err
	}
	return nil
}

func materializeFromMeta(ctx context.Context, slotDir, rootfsDir string, meta *ocimeta.Record) error {
	inputs := make([]layer.Input, len(meta.Layers))
	for i, l := range meta.Layers {
		inputs[i] = layer.Input{Digest: l.Digest}
	}
	return layer.Materialize(ctx, slotDir, rootfsDir, inputs)
}

// commitSlot moves tempDir into targetDir's place, then removes the (now
// stale) temp name. targetDir is overwritten if it already exists. The move
// is atomic where RENAME_EXCHANGE is available; otherwise exchangeRenameDir
// removes targetDir before renaming.
func commitSlot(tempDir, targetDir string) error {
	if err := exchangeRenameDir(tempDir, targetDir); err != nil {
		return bootrerr.IOf(err, "commit staged slot to %s", targetDir)
	}
	if err := os.RemoveAll(tempDir); err != nil {
		return bootrerr.IOf(err, "remove staging directory %s", tempDir)
	}
	return nil
}

// markInstalled writes the .installed marker once rootfs/ is fully
// materialized, before the slot is committed into place.
func markInstalled(cat catalog.Catalog, slotDir string) error {
	path := cat.InstalledMarker(slotDir)
	if err := os.WriteFile(path, nil, 0o644); err != nil { //nolint:gosec
		return bootrerr.IOf(err, "write %s", path)
	}
	return nil
}

// clearInstalledMarker removes the .installed marker once the activation
// flip has made the slot live, closing the interlock window.
func clearInstalledMarker(cat catalog.Catalog, slotDir string) error {
	path := cat.InstalledMarker(slotDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return bootrerr.IOf(err, "remove %s", path)
	}
	return nil
}

// keepKernel copies /boot and /lib/modules from the active rootfs into the
// freshly materialized one, preserving host-specific kernel/module state
// across an update that otherwise replaces the entire tree.
func keepKernel(fromRootfs, toRootfs string) error {
	for _, sub := range []string{"boot", "lib/modules"} {
		src := filepath.Join(fromRootfs, sub)
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return bootrerr.IOf(err, "stat %s", src)
		}
		dst := filepath.Join(toRootfs, sub)
		if err := os.RemoveAll(dst); err != nil {
			return bootrerr.IOf(err, "clear %s", dst)
		}
		if err := copyTree(src, dst); err != nil {
			return bootrerr.IOf(err, "copy %s to %s", src, dst)
		}
	}
	return nil
}

// copyTree recursively copies src onto dst, preserving symlinks, directory
// modes, and regular file permissions.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			in, err := os.Open(path) //nolint:gosec
			if err != nil {
				return err
			}
			defer in.Close() //nolint:errcheck
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) //nolint:gosec
			if err != nil {
				return err
			}
			defer out.Close() //nolint:errcheck
			_, err = io.Copy(out, in)
			return err
		}
	})
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return err
		}
	}
	return nil
}

// exchangeRename atomically swaps the dentries at a and b (both expected to
// be symlinks), using RENAME_EXCHANGE where the kernel supports it and
// falling back to a plain replacing rename (b loses its old target, a is
// consumed) when it does not.
func exchangeRename(a, b string) error {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		return os.Rename(a, b)
	}
	return err
}

// exchangeRenameDir is exchangeRename's directory-commit counterpart: when
// RENAME_EXCHANGE isn't available it falls back to removing the destination
// first, since os.Rename cannot replace a non-empty directory.
func exchangeRenameDir(a, b string) error {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOSYS) {
		return err
	}
	if _, statErr := os.Stat(b); statErr == nil {
		if err := os.RemoveAll(b); err != nil {
			return err
		}
	}
	return os.Rename(a, b)
}
