package sysroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/config"
	"github.com/tinythings/bootr/ocimeta"
	"github.com/tinythings/bootr/status"
)

func newTestManager(t *testing.T) (*Manager, catalog.Catalog) {
	t.Helper()
	root := t.TempDir()
	cat := catalog.New(root)
	m, err := NewManager(context.Background(), cat, config.DefaultConfig())
	require.NoError(t, err)
	return m, cat
}

func markSlotMaterialized(t *testing.T, cat catalog.Catalog, slotDir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cat.RootfsDir(slotDir), 0o750))
	require.NoError(t, status.Save(&status.Record{Architecture: "amd64", OS: "linux"}, slotDir))
	require.NoError(t, ocimeta.Save(&ocimeta.Record{SchemaVersion: 2}, slotDir))
}

func TestInitCreatesSlotDirsAndLoadsEmptyRecords(t *testing.T) {
	m, cat := newTestManager(t)

	for _, name := range []string{catalog.SlotA, catalog.SlotB} {
		info, err := os.Stat(cat.SlotDir(name))
		require.NoError(t, err)
		require.True(t, info.IsDir())
		rec, ok := m.records[cat.SlotDir(name)]
		require.True(t, ok)
		require.True(t, rec.IsEmpty)
		require.False(t, rec.IsActive)
	}
}

func TestSetActiveByIDUnknownSlotFails(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SetActiveByID(context.Background(), "C")
	require.Error(t, err)
	kind, ok := bootrerr.Of(err)
	require.True(t, ok)
	require.Equal(t, bootrerr.KindNotFound, kind)
}

func TestSetActiveByIDNoExistingLink(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	require.NoError(t, m.Init(context.Background()))

	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	target, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, catalog.SlotA, target)

	rec, ok := m.GetSysroot()
	require.True(t, ok)
	require.Equal(t, cat.SlotDir(catalog.SlotA), rec.Path)
}

func TestSetActiveByIDFlipsBetweenSlots(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotB))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotB))

	target, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, catalog.SlotB, target)

	// Flipping again must still work even though a stale current.temp link
	// was left behind by the previous flip.
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))
	target, err = os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, catalog.SlotA, target)
}

func TestSetActiveByIDNoOpWhenAlreadyActive(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	before, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))
	after, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetActiveLatestPicksMostRecentStatus(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	time.Sleep(10 * time.Millisecond)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotB))
	require.NoError(t, m.Init(context.Background()))

	require.NoError(t, m.SetActiveLatest(context.Background()))

	target, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, catalog.SlotB, target)
}

func TestSetActiveLatestNoOpWhenLinkExists(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	require.NoError(t, m.SetActiveLatest(context.Background()))
	target, err := os.Readlink(cat.CurrentLink())
	require.NoError(t, err)
	require.Equal(t, catalog.SlotA, target)
}

func TestInstallFailsAlreadyExistsWhenActivationLinkPresent(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	err := m.Install(context.Background(), InstallOptions{})
	require.Error(t, err)
	kind, ok := bootrerr.Of(err)
	require.True(t, ok)
	require.Equal(t, bootrerr.KindAlreadyExists, kind)
}

func TestInstallFailsAlreadyExistsWhenSlotNonEmpty(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotB))
	require.NoError(t, m.Init(context.Background()))

	err := m.Install(context.Background(), InstallOptions{})
	require.Error(t, err)
	kind, ok := bootrerr.Of(err)
	require.True(t, ok)
	require.Equal(t, bootrerr.KindAlreadyExists, kind)
}

func TestDownloadFailsNotFoundWhenStagingMissing(t *testing.T) {
	m, cat := newTestManager(t)
	err := m.Download(context.Background(), filepath.Join(cat.Root(), "does-not-exist"))
	require.Error(t, err)
	kind, ok := bootrerr.Of(err)
	require.True(t, ok)
	require.Equal(t, bootrerr.KindNotFound, kind)
}

func TestGetSysrootMetaReflectsActiveSlot(t *testing.T) {
	m, cat := newTestManager(t)
	markSlotMaterialized(t, cat, cat.SlotDir(catalog.SlotA))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.SetActiveByID(context.Background(), catalog.SlotA))

	meta, ok := m.GetSysrootMeta()
	require.True(t, ok)
	require.Equal(t, "amd64", meta.Architecture)
}
