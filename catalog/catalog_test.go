package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivedPaths(t *testing.T) {
	c := New("/bootr")
	require.Equal(t, "/bootr/system", c.SystemDir())
	require.Equal(t, "/bootr/system/A", c.SlotDir(SlotA))
	require.Equal(t, "/bootr/system/A/rootfs", c.RootfsDir(c.SlotDir(SlotA)))
	require.Equal(t, "/bootr/system/A/status", c.StatusFile(c.SlotDir(SlotA)))
	require.Equal(t, "/bootr/system/current", c.CurrentLink())
	require.Equal(t, "/bootr/system/current.temp", c.CurrentTempLink())
}

func TestReservedHostDirsFixed(t *testing.T) {
	require.ElementsMatch(t, []string{"dev", "proc", "sys", "run"}, ReservedHostDirs)
}
