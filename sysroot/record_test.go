package sysroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/status"
)

func TestLoadRecordEmptySlot(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	slotDir := cat.SlotDir(catalog.SlotA)
	require.NoError(t, os.MkdirAll(slotDir, 0o750))

	rec, err := loadRecord(cat, slotDir)
	require.NoError(t, err)
	require.True(t, rec.IsEmpty)
	require.Nil(t, rec.Status)
	require.False(t, rec.IsActive)
}

func TestLoadRecordMaterializedSlot(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	slotDir := cat.SlotDir(catalog.SlotA)
	require.NoError(t, os.MkdirAll(slotDir, 0o750))
	require.NoError(t, status.Save(&status.Record{Architecture: "amd64", OS: "linux"}, slotDir))

	rec, err := loadRecord(cat, slotDir)
	require.NoError(t, err)
	require.False(t, rec.IsEmpty)
	require.Equal(t, "amd64", rec.Status.Architecture)
}

func TestLoadRecordIsActiveWhenLinkMatches(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	slotDir := cat.SlotDir(catalog.SlotA)
	require.NoError(t, os.MkdirAll(slotDir, 0o750))
	require.NoError(t, os.MkdirAll(cat.SystemDir(), 0o750))
	require.NoError(t, os.Symlink(catalog.SlotA, cat.CurrentLink()))

	rec, err := loadRecord(cat, slotDir)
	require.NoError(t, err)
	require.True(t, rec.IsActive)
}

func TestLoadRecordFailsInvalidDataOnCorruptStatus(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	slotDir := cat.SlotDir(catalog.SlotA)
	require.NoError(t, os.MkdirAll(slotDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(slotDir, "status"), []byte("not: [valid"), 0o644))

	_, err := loadRecord(cat, slotDir)
	require.Error(t, err)
	require.ErrorIs(t, err, bootrerr.InvalidData)
}
